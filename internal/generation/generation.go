// Package generation delegates pipeline stages to a text-generation service.
package generation

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/genforge/internal/extract"
)

// Role names the stage a generation request serves.
type Role string

const (
	RoleManifest  Role = "manifest"
	RoleInterface Role = "interface"
	RoleCode      Role = "code"
	RoleTest      Role = "test"
	RoleDocs      Role = "docs"
	RoleRunScript Role = "run_script"
	RoleReview    Role = "review"
	RoleFix       Role = "fix"
)

// Roles lists every role in pipeline order.
var Roles = []Role{
	RoleManifest, RoleInterface, RoleCode, RoleTest,
	RoleDocs, RoleRunScript, RoleReview, RoleFix,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Request carries a role and the inputs its prompt needs.
// Unused fields are left empty.
type Request struct {
	Role Role

	Spec      string
	Interface string
	Code      string
	Test      string

	// CodeFile is the implementation path, used by test and fix prompts.
	CodeFile string
	// Feedback is review text or a sandbox report, used by the fix prompt.
	Feedback string
}

// Generator produces the raw response for one stage.
type Generator interface {
	Generate(ctx context.Context, req Request) (extract.Response, error)
}

var (
	// ErrMissingCredential is returned when the provider needs an API key and none is configured.
	ErrMissingCredential = errors.New("generation service credential not configured")
	// ErrUnknownRole is returned for requests whose role has no prompt.
	ErrUnknownRole = errors.New("unknown generation role")
)
