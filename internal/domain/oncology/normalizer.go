package oncology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hcafhir/internal/domain/identity"
	"github.com/ehr/hcafhir/internal/domain/terminology"
)

// Row is the view of a source record the normalizer needs.
type Row interface {
	Lookup(column string) (string, bool)
}

// FieldPolicy decides what happens when a mutation column is missing.
type FieldPolicy string

const (
	// FieldPolicyStrict fails the row with *MissingRequiredFieldError.
	FieldPolicyStrict FieldPolicy = "strict"
	// FieldPolicyLenient omits a mutation whose columns are all absent or empty.
	FieldPolicyLenient FieldPolicy = "lenient"
)

// DefaultIDPrefix namespaces every generated id.
const DefaultIDPrefix = "hca"

// SuffixFunc returns a short random token used to make ids unique.
type SuffixFunc func() string

// RandomSuffix returns the last 12 hex characters of a random UUID.
func RandomSuffix() string {
	s := uuid.NewString()
	return s[len(s)-12:]
}

type NormalizerOption func(*Normalizer)

func WithFieldPolicy(p FieldPolicy) NormalizerOption {
	return func(n *Normalizer) { n.policy = p }
}

func WithIDPrefix(prefix string) NormalizerOption {
	return func(n *Normalizer) { n.prefix = prefix }
}

func WithSuffixFunc(f SuffixFunc) NormalizerOption {
	return func(n *Normalizer) { n.suffix = f }
}

func WithLogger(logger zerolog.Logger) NormalizerOption {
	return func(n *Normalizer) { n.logger = logger }
}

// Normalizer turns rows into PatientRecords.
type Normalizer struct {
	tables *terminology.Tables
	synth  *identity.Synthesizer
	policy FieldPolicy
	prefix string
	suffix SuffixFunc
	logger zerolog.Logger
}

func NewNormalizer(tables *terminology.Tables, synth *identity.Synthesizer, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		tables: tables,
		synth:  synth,
		policy: FieldPolicyStrict,
		prefix: DefaultIDPrefix,
		suffix: RandomSuffix,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize builds the record for one row. It fails with
// *terminology.UnmappedTermError, *MissingRequiredFieldError or
// *InvalidFieldError.
func (n *Normalizer) Normalize(row Row) (*PatientRecord, error) {
	key, err := n.naturalKey(row)
	if err != nil {
		return nil, err
	}
	age, err := n.intField(row, ColAge)
	if err != nil {
		return nil, err
	}
	sexRaw, _ := row.Lookup(ColSex)
	sex := identity.ParseSex(sexRaw)

	rec := &PatientRecord{
		NaturalKey:  key,
		PatientID:   fmt.Sprintf("%s-pat-%d", n.prefix, key),
		Sex:         sex,
		Identity:    n.synth.Synthesize(key, age, sex),
		ConditionID: n.newID("con"),
	}

	if text, ok := present(row, ColDiagnosis); ok {
		c, err := n.tables.Condition.Resolve(text)
		if err != nil {
			return nil, err
		}
		rec.Condition = &c
	}

	if rec.Mutations, err = n.mutations(row); err != nil {
		return nil, err
	}
	rec.Labs = n.labs(row, key)

	if text, ok := present(row, ColSurgery); ok {
		c, err := n.tables.Procedure.Resolve(text)
		if err != nil {
			return nil, err
		}
		rec.Procedure = &ProcedureEntry{ID: n.newID("pro"), Concept: c}
	}

	for _, col := range MedicationColumns {
		text, ok := present(row, col)
		if !ok {
			continue
		}
		c, err := n.tables.Medication.Resolve(text)
		if err != nil {
			return nil, err
		}
		rec.Medications = append(rec.Medications, MedicationEntry{ID: n.newID("med"), Concept: c})
	}
	return rec, nil
}

func (n *Normalizer) newID(kind string) string {
	return n.prefix + "-" + kind + "-" + n.suffix()
}

func (n *Normalizer) naturalKey(row Row) (int64, error) {
	raw, ok := row.Lookup(ColPatientID)
	if !ok {
		return 0, &MissingRequiredFieldError{Column: ColPatientID}
	}
	key, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &InvalidFieldError{Column: ColPatientID, Value: raw, Err: err}
	}
	return key, nil
}

func (n *Normalizer) intField(row Row, col string) (int, error) {
	raw, ok := row.Lookup(col)
	if !ok {
		return 0, &MissingRequiredFieldError{Column: col}
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &InvalidFieldError{Column: col, Value: raw, Err: err}
	}
	return v, nil
}

func (n *Normalizer) mutations(row Row) ([]Observation, error) {
	out := make([]Observation, 0, len(mutationSpecs))
	for _, spec := range mutationSpecs {
		result, resultOK := row.Lookup(spec.resultColumn)
		qty, qtyOK := row.Lookup(spec.quantityColumn)

		if n.policy == FieldPolicyLenient {
			if strings.TrimSpace(result) == "" && strings.TrimSpace(qty) == "" {
				continue
			}
		} else {
			if !resultOK {
				return nil, &MissingRequiredFieldError{Column: spec.resultColumn}
			}
			if !qtyOK {
				return nil, &MissingRequiredFieldError{Column: spec.quantityColumn}
			}
		}

		out = append(out, Observation{
			ID:       n.newID("obs"),
			Genomic:  true,
			Code:     spec.code,
			System:   hgncSystem,
			Display:  spec.display,
			Text:     spec.text,
			Result:   ucfirst(result),
			Quantity: parseInt(qty),
			Unit:     mutationUnit,
			Raw:      qty,
		})
	}
	return out, nil
}

func (n *Normalizer) labs(row Row, key int64) []Observation {
	var out []Observation
	for _, spec := range labSpecs {
		raw, ok := present(row, spec.column)
		if !ok {
			continue
		}
		obs := spec.observation(raw)
		obs.ID = n.newID("obs")

		if spec.ranged {
			point, low, high, parsed := parseBounds(raw)
			if !parsed {
				n.logger.Warn().
					Int64("natural_key", key).
					Str("column", spec.column).
					Str("value", raw).
					Msg("malformed lab range, keeping the readable bound")
			}
			obs.Quantity, obs.Low, obs.High = point, low, high
		} else {
			obs.Quantity = parseDecimal(raw)
			if obs.Quantity == nil {
				n.logger.Warn().
					Int64("natural_key", key).
					Str("column", spec.column).
					Str("value", raw).
					Msg("non-numeric lab value, keeping raw text only")
			}
		}
		out = append(out, obs)
	}
	return out
}

// present returns the column value when the column exists and is not blank.
func present(row Row, col string) (string, bool) {
	v, ok := row.Lookup(col)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
