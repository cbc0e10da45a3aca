package identity

// Synthetic name pools. None of these combinations is meant to identify a
// real person.
var (
	familyNames = []string{
		"Ackerman", "Adams", "Bachmann", "Belson", "Berger", "Cannon", "Chen",
		"Dunbar", "Ebert", "Fallon", "Gregory", "Grey", "Haynes", "Hendricks",
		"Hoover", "Jackson", "Klever", "Logan", "McConnell", "Mueller", "Newman",
		"Oppenheimer", "Peterson", "Petrich", "Richards", "Russo", "Santiago",
		"Savel", "Schmutzhauser", "Tessler", "Urciuoli", "Williams", "Zafran",
		"Zhou",
	}

	femaleGivenNames = []string{
		"Anne", "Beryl", "Brittany", "Christy", "Deborah", "Elizabeth", "Emilie",
		"Hannah", "Jeanine", "Julie", "Lindsay", "Magda", "Monica", "Nancy",
		"Paulene", "Rachel", "Renee", "Rita", "Shae", "Tess", "Trudy", "Vanessa",
		"Zoe",
	}

	maleGivenNames = []string{
		"Ehrlich", "Gavin", "Joseph", "Peter", "Richard", "Ted",
	}
)

// FamilyNames returns a copy of the shared family name pool.
func FamilyNames() []string { return append([]string(nil), familyNames...) }

// GivenNames returns a copy of the given name pool used for sex.
func GivenNames(sex Sex) []string {
	return append([]string(nil), givenPool(sex)...)
}

func givenPool(sex Sex) []string {
	if sex == SexMale {
		return maleGivenNames
	}
	return femaleGivenNames
}
