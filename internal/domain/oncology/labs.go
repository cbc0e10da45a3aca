package oncology

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

// mutationSpec describes one genomic observation. The result and the
// percentage may come from the same column.
type mutationSpec struct {
	code           string
	display        string
	text           string
	resultColumn   string
	quantityColumn string
}

var mutationSpecs = []mutationSpec{
	{
		code:           "HGNC:3430",
		display:        "erb-b2 receptor tyrosine kinase 2",
		text:           "Her2Neu FISH",
		resultColumn:   ColHER2,
		quantityColumn: ColHER2,
	},
	{
		code:           "HGNC:3467",
		display:        "estrogen receptor 1",
		text:           "ER Pct",
		resultColumn:   ColERStatus,
		quantityColumn: ColERPct,
	},
	{
		code:           "HGNC:8910",
		display:        "progesterone receptor",
		text:           "PR Pct",
		resultColumn:   ColPRStatus,
		quantityColumn: ColPRPct,
	},
}

const (
	mutationUnit = "%"
	hgncSystem   = fhir.SystemHGNC
)

// labSpec describes one recognized lab column.
type labSpec struct {
	column  string
	code    string
	display string
	unit    string
	ranged  bool
}

var labSpecs = []labSpec{
	{column: ColNeutrophils, code: "26499-4", display: "Neutrophils [#/volume] in Blood", unit: "10*3/uL"},
	{column: ColPlatelets, code: "26515-7", display: "Platelets [#/volume] in Blood", unit: "10*3/uL"},
	{column: ColEGFR, code: "69405-9", display: "Glomerular filtration rate/1.73 sq M.predicted", unit: "mL/min", ranged: true},
}

func (s labSpec) observation(raw string) Observation {
	return Observation{
		Code:    s.code,
		System:  fhir.SystemLOINC,
		Display: s.display,
		Text:    s.column,
		Unit:    s.unit,
		Raw:     raw,
	}
}

// ucfirst upper-cases the first letter and leaves the rest alone.
func ucfirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// parseInt returns nil for anything that is not a whole number.
func parseInt(s string) *decimal.Decimal {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	d := decimal.NewFromInt(n)
	return &d
}

func parseDecimal(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &d
}

// parseBounds reads "<X" as an upper bound, ">X" as a lower bound, "A-B" as
// both and a bare number as a point value. ok is false when raw matches none
// of these; a range with one unreadable half still returns the other.
func parseBounds(raw string) (point, low, high *decimal.Decimal, ok bool) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "<"):
		high = parseDecimal(s[1:])
		return nil, nil, high, high != nil
	case strings.HasPrefix(s, ">"):
		low = parseDecimal(s[1:])
		return nil, low, nil, low != nil
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return nil, nil, nil, false
		}
		// Keep whichever half parses; ok reports whether both did.
		low, high = parseDecimal(parts[0]), parseDecimal(parts[1])
		return nil, low, high, low != nil && high != nil
	}
	point = parseDecimal(s)
	return point, nil, nil, point != nil
}
