// Package identity derives synthetic, reproducible demographics for
// de-identified case rows.
package identity

import (
	"math/rand/v2"
	"strings"
	"time"
)

// Sex is the administrative sex recorded on the source row.
type Sex int

const (
	SexUnknown Sex = iota
	SexMale
	SexFemale
)

// ParseSex maps the row's Sex column. Anything other than male or female is
// SexUnknown, which draws from the female pool.
func ParseSex(s string) Sex {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return SexMale
	case "female":
		return SexFemale
	default:
		return SexUnknown
	}
}

// Gender returns the FHIR administrative gender code.
func (s Sex) Gender() string {
	switch s {
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	default:
		return "unknown"
	}
}

// Identity is a synthetic name and birth date.
type Identity struct {
	Given     string
	Family    string
	BirthDate time.Time
}

// Source draws integers in [0, n).
type Source interface {
	IntN(n int) int
}

// SeedFunc returns a generator fully determined by seed.
type SeedFunc func(seed int64) Source

// DaysPerYear is the year length used to turn a stated age into days.
const DaysPerYear = 365

// maxJitterDays bounds the random offset added on top of the stated age.
const maxJitterDays = 364

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithSeeder replaces the seeded generator used for name draws.
func WithSeeder(f SeedFunc) Option {
	return func(s *Synthesizer) { s.seeded = f }
}

// WithJitter replaces the unseeded stream used for the birth date offset.
func WithJitter(src Source) Option {
	return func(s *Synthesizer) { s.jitter = src }
}

// WithClock replaces the clock that defines "today".
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// Synthesizer produces identities. Name draws depend only on the natural
// key; the birth date offset does not repeat between runs.
type Synthesizer struct {
	seeded SeedFunc
	jitter Source
	now    func() time.Time
}

// NewSynthesizer creates a Synthesizer backed by PCG generators.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		seeded: PCGSeeder,
		jitter: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PCGSeeder is the default SeedFunc.
func PCGSeeder(seed int64) Source {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// Synthesize derives an identity for the row with the given natural key.
func (s *Synthesizer) Synthesize(naturalKey int64, ageYears int, sex Sex) Identity {
	given := givenPool(sex)
	givenDraw := s.seeded(naturalKey)

	familyDraw := s.seeded((naturalKey + 3) * naturalKey)

	days := ageYears*DaysPerYear + s.jitter.IntN(maxJitterDays+1)
	today := truncateToDay(s.now())

	return Identity{
		Given:     given[givenDraw.IntN(len(given))],
		Family:    familyNames[familyDraw.IntN(len(familyNames))],
		BirthDate: today.AddDate(0, 0, -days),
	}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
