// Package specvalidator checks project specifications before a run starts,
// and offers advisory checks for generated artifacts.
package specvalidator

import (
	"strings"
)

const minSpecLength = 10

var (
	requirementWords = []string{"should", "must", "will", "application"}
	codeMarkers      = []string{"class", "def", "import", "from"}
	interfaceTerms   = []string{"struct", "interface", "typedef", "exception"}
)

// Validator implements the specification rules. The zero value is ready to use.
type Validator struct{}

// New returns a Validator.
func New() *Validator { return &Validator{} }

// Validate accepts a specification that is at least 10 non-blank characters
// long and states a requirement (should, must, will or application).
func (Validator) Validate(spec string) error {
	verr := &ValidationError{}

	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		verr.Add("specification is empty")
		return verr
	}
	if len(trimmed) < minSpecLength {
		verr.Add("specification is too short to be valid")
	}
	if !containsAny(strings.ToLower(spec), requirementWords) {
		verr.Add("specification must contain clear requirements (using words like 'should', 'must', 'will')")
	}

	return verr.OrNil()
}

// CheckCode reports whether generated code looks like Python source.
// The result is advisory; the pipeline only logs it.
func (Validator) CheckCode(code string) error {
	verr := &ValidationError{Subject: "generated code"}
	if strings.TrimSpace(code) == "" {
		verr.Add("generated code cannot be empty")
		return verr
	}
	if !containsAny(code, codeMarkers) {
		verr.Add("generated code must contain valid Python structures")
	}
	return verr.OrNil()
}

// CheckInterface reports missing IDL constructs in an interface artifact.
// The result is advisory; the pipeline only logs it.
func (Validator) CheckInterface(idl string) error {
	verr := &ValidationError{Subject: "interface specification"}
	for _, term := range interfaceTerms {
		if !strings.Contains(idl, term) {
			verr.Add("missing " + term + " definitions")
		}
	}
	return verr.OrNil()
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
