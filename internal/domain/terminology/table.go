package terminology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table names.
const (
	TableCondition  = "condition"
	TableProcedure  = "procedure"
	TableMedication = "medication"
)

// MatchPolicy decides how a label is turned into a lookup key.
type MatchPolicy int

const (
	// MatchFold lower-cases labels before lookup.
	MatchFold MatchPolicy = iota
	// MatchExact looks labels up exactly as written.
	MatchExact
)

func (p MatchPolicy) String() string {
	if p == MatchExact {
		return "exact"
	}
	return "fold"
}

func (p MatchPolicy) key(text string) string {
	if p == MatchFold {
		return strings.ToLower(text)
	}
	return text
}

type concept struct {
	code    string
	system  string
	display string
}

// Table is an immutable label-to-code map.
type Table struct {
	name    string
	policy  MatchPolicy
	entries map[string]concept
}

// NewTable builds a table from decoded entries. Entries lacking a code or a
// display are rejected so that a resolved concept is always complete.
func NewTable(name string, policy MatchPolicy, defaultSystem string, entries map[string]Entry) (*Table, error) {
	t := &Table{name: name, policy: policy, entries: make(map[string]concept, len(entries))}
	for label, e := range entries {
		code := e.code()
		if code == "" {
			return nil, fmt.Errorf("%s table: entry %q has no code", name, label)
		}
		if e.Display == "" {
			return nil, fmt.Errorf("%s table: entry %q has no display", name, label)
		}
		system := e.System
		if system == "" {
			system = defaultSystem
		}
		key := policy.key(label)
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("%s table: label %q collides with another entry under %s matching", name, label, policy)
		}
		t.entries[key] = concept{code: code, system: system, display: e.Display}
	}
	return t, nil
}

func (t *Table) Name() string        { return t.name }
func (t *Table) Policy() MatchPolicy { return t.policy }
func (t *Table) Len() int            { return len(t.entries) }

// Resolve maps text to a coded concept or fails with *UnmappedTermError.
func (t *Table) Resolve(text string) (CodedConcept, error) {
	c, ok := t.entries[t.policy.key(text)]
	if !ok {
		return CodedConcept{}, &UnmappedTermError{Table: t.name, Text: text}
	}
	return CodedConcept{
		Text:    text,
		Code:    c.code,
		System:  c.system,
		Display: c.display,
	}, nil
}

// Tables groups the three lookup tables the normalizer needs.
type Tables struct {
	Condition  *Table
	Procedure  *Table
	Medication *Table
}

// Paths locates the three lookup documents.
type Paths struct {
	Condition  string
	Procedure  string
	Medication string
}

// LoadTables reads all three documents. Condition and procedure labels are
// case-folded; medication labels are matched exactly.
func LoadTables(p Paths) (*Tables, error) {
	cond, err := LoadTable(TableCondition, p.Condition, MatchFold, SystemSNOMED)
	if err != nil {
		return nil, err
	}
	proc, err := LoadTable(TableProcedure, p.Procedure, MatchFold, SystemSNOMED)
	if err != nil {
		return nil, err
	}
	med, err := LoadTable(TableMedication, p.Medication, MatchExact, SystemRxNorm)
	if err != nil {
		return nil, err
	}
	return &Tables{Condition: cond, Procedure: proc, Medication: med}, nil
}

// LoadTable reads one JSON or YAML lookup document from path.
func LoadTable(name, path string, policy MatchPolicy, defaultSystem string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s table: %w", name, err)
	}
	entries, err := decodeEntries(path, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s table %s: %w", name, path, err)
	}
	return NewTable(name, policy, defaultSystem, entries)
}

func decodeEntries(path string, data []byte) (map[string]Entry, error) {
	entries := map[string]Entry{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
