package generation

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

// Prompt templates use Go template syntax over the Request fields.
const (
	manifestTemplate = `You plan the file layout of a small software project.

Specification:
{{.spec}}

Answer with a single JSON object and nothing else. It must have exactly these
string keys, each a relative path inside the project:
"implementation_file", "test_file", "docs_file", "interface_file", "run_script".`

	interfaceTemplate = `Write an interface definition (IDL) for the project below.
Declare the typedefs, structs, exceptions and interfaces the implementation
must provide.

Specification:
{{.spec}}

Output only the IDL as plain text without markdown formatting.`

	codeTemplate = `Implement the project below so that it satisfies the interface definition.

Specification:
{{.spec}}

Interface definition:
{{.interface}}

Output only the complete source code as plain text without markdown formatting.`

	testTemplate = `Write unit tests for the code stored in {{.code_file}}.
Import it the way a test runner started from the project root would.

Code:
{{.code}}

Output only the test source as plain text without markdown formatting.`

	docsTemplate = `Write user documentation (README) for the project below.

Specification:
{{.spec}}

Implementation:
{{.code}}

Testing:
{{.test}}

Output markdown.`

	runScriptTemplate = `Write a shell script that installs what the project needs, builds it
and runs it from the project root.

Specification:
{{.spec}}

Interface definition:
{{.interface}}

Output only the script as plain text without markdown formatting.`

	reviewTemplate = `Review the following code for correctness, error handling and readability.

Code:
{{.code}}

If the code is ready to ship, reply with the single word "Approved".
Otherwise list the concrete changes that are required.`

	fixTemplate = `Improve the code stored in {{.code_file}} using the feedback below.
Keep the existing functionality intact and address every point.

Original code:
{{.code}}

Feedback:
{{.feedback}}

Output only the complete corrected code as plain text without markdown formatting.`
)

var templates = map[Role]prompts.PromptTemplate{
	RoleManifest:  prompts.NewPromptTemplate(manifestTemplate, []string{"spec"}),
	RoleInterface: prompts.NewPromptTemplate(interfaceTemplate, []string{"spec"}),
	RoleCode:      prompts.NewPromptTemplate(codeTemplate, []string{"spec", "interface"}),
	RoleTest:      prompts.NewPromptTemplate(testTemplate, []string{"code_file", "code"}),
	RoleDocs:      prompts.NewPromptTemplate(docsTemplate, []string{"spec", "code", "test"}),
	RoleRunScript: prompts.NewPromptTemplate(runScriptTemplate, []string{"spec", "interface"}),
	RoleReview:    prompts.NewPromptTemplate(reviewTemplate, []string{"code"}),
	RoleFix:       prompts.NewPromptTemplate(fixTemplate, []string{"code_file", "code", "feedback"}),
}

// RenderPrompt formats the prompt for req.
func RenderPrompt(req Request) (string, error) {
	tmpl, ok := templates[req.Role]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
	}

	prompt, err := tmpl.Format(map[string]any{
		"spec":      req.Spec,
		"interface": req.Interface,
		"code":      req.Code,
		"test":      req.Test,
		"code_file": req.CodeFile,
		"feedback":  req.Feedback,
	})
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", req.Role, err)
	}
	return prompt, nil
}
