package oncology

import (
	"fmt"
	"testing"
	"time"

	"github.com/ehr/hcafhir/internal/domain/identity"
	"github.com/ehr/hcafhir/internal/domain/terminology"
)

type mapRow map[string]string

func (m mapRow) Lookup(col string) (string, bool) {
	v, ok := m[col]
	return v, ok
}

func (m mapRow) with(col, v string) mapRow {
	out := make(mapRow, len(m)+1)
	for k, val := range m {
		out[k] = val
	}
	out[col] = v
	return out
}

func (m mapRow) without(col string) mapRow {
	out := make(mapRow, len(m))
	for k, val := range m {
		if k != col {
			out[k] = val
		}
	}
	return out
}

func fullRow() mapRow {
	return mapRow{
		ColPatientID:   "42",
		ColAge:         "50",
		ColSex:         "male",
		ColDiagnosis:   "Invasive ductal carcinoma",
		ColSurgery:     "Lumpectomy",
		ColHER2:        "negative",
		ColERStatus:    "positive",
		ColERPct:       "90",
		ColPRStatus:    "positive",
		ColPRPct:       "not done",
		ColNeutrophils: "3.4",
		ColPlatelets:   "250",
		ColEGFR:        "45-60",
		ColChemo1:      "Docetaxel",
		ColChemo2:      "",
		ColChemo3:      "Cyclophosphamide",
		ColEndocrine:   "Tamoxifen",
	}
}

func testTables(t *testing.T) *terminology.Tables {
	t.Helper()
	cond, err := terminology.NewTable(terminology.TableCondition, terminology.MatchFold, terminology.SystemSNOMED,
		map[string]terminology.Entry{
			"invasive ductal carcinoma": {SNOMED: "408643008", Display: "Infiltrating duct carcinoma of breast"},
		})
	if err != nil {
		t.Fatal(err)
	}
	proc, err := terminology.NewTable(terminology.TableProcedure, terminology.MatchFold, terminology.SystemSNOMED,
		map[string]terminology.Entry{
			"lumpectomy": {SNOMED: "392021009", Display: "Lumpectomy of breast"},
		})
	if err != nil {
		t.Fatal(err)
	}
	med, err := terminology.NewTable(terminology.TableMedication, terminology.MatchExact, terminology.SystemRxNorm,
		map[string]terminology.Entry{
			"Docetaxel":        {RxNorm: "72962", Display: "Docetaxel"},
			"Cyclophosphamide": {RxNorm: "3002", Display: "Cyclophosphamide"},
			"Tamoxifen":        {RxNorm: "10324", Display: "Tamoxifen"},
		})
	if err != nil {
		t.Fatal(err)
	}
	return &terminology.Tables{Condition: cond, Procedure: proc, Medication: med}
}

// counterSuffix yields 000000000001, 000000000002, ...
func counterSuffix() SuffixFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%012x", n)
	}
}

var fixedNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func testNormalizer(t *testing.T, opts ...NormalizerOption) *Normalizer {
	t.Helper()
	synth := identity.NewSynthesizer(identity.WithClock(func() time.Time { return fixedNow }))
	opts = append([]NormalizerOption{WithSuffixFunc(counterSuffix())}, opts...)
	return NewNormalizer(testTables(t), synth, opts...)
}
