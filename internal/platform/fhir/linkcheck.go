package fhir

import (
	"fmt"
	"strings"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
)

// RelatedConditionURL is the extension Observations use to point at the
// Condition they were recorded for.
const RelatedConditionURL = "http://hl7.org/fhir/StructureDefinition/observation-related-condition"

// LinkError reports a resource whose back-reference does not resolve to the
// expected Patient or Condition.
type LinkError struct {
	Resource string
	Want     string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s does not reference %s", e.Resource, e.Want)
}

// Navigation paths to the reference strings a resource carries. children()
// of a Reference yields its reference and display strings.
var (
	patientRefPath   = "(patient | subject).children()"
	conditionRefPath = fmt.Sprintf(
		"(reasonReference | extension.where(url = %s).valueReference).children()",
		quote(RelatedConditionURL))
)

// LinkChecker evaluates FHIRPath expressions against rendered resources to
// confirm that each one points back at its owning patient and condition.
type LinkChecker struct {
	exprs *fhirpath.ExpressionCache
}

func NewLinkChecker() *LinkChecker {
	return &LinkChecker{exprs: fhirpath.NewExpressionCache(0)}
}

// CheckPatient confirms r references patientRef through patient or subject.
func (lc *LinkChecker) CheckPatient(r Resource, patientRef string) error {
	return lc.expect(r, patientRefPath, patientRef)
}

// CheckCondition confirms r references conditionRef through reasonReference
// or the related-condition extension.
func (lc *LinkChecker) CheckCondition(r Resource, conditionRef string) error {
	return lc.expect(r, conditionRefPath, conditionRef)
}

// Check runs both back-reference checks.
func (lc *LinkChecker) Check(r Resource, patientRef, conditionRef string) error {
	if err := lc.CheckPatient(r, patientRef); err != nil {
		return err
	}
	return lc.CheckCondition(r, conditionRef)
}

func (lc *LinkChecker) expect(r Resource, path, want string) error {
	compiled, err := lc.exprs.Get(path)
	if err != nil {
		return fmt.Errorf("compile link expression: %w", err)
	}
	result, err := compiled.Evaluate(r.Body)
	if err != nil {
		return fmt.Errorf("evaluate link expression on %s: %w", r.Ref(), err)
	}
	for _, v := range result {
		if s, ok := v.(types.String); ok && s.Value() == want {
			return nil
		}
	}
	return &LinkError{Resource: r.Ref(), Want: want}
}

// quote renders s as a FHIRPath string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
