package cli

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"github.com/joho/godotenv"
)

// TemplateContext is available to payload files as {{ .ENV.X }} and
// {{ .Session.client_id }}.
type TemplateContext struct {
	ENV     map[string]string
	Session map[string]string
}

var missingKeyRegex = regexp.MustCompile(`map has no entry for key "(.*?)"`)

// NewTemplateContext collects the environment, including a .env file in the
// working directory, and the given session values.
func NewTemplateContext(sessionValues map[string]string) TemplateContext {
	_ = godotenv.Load() // no error if .env doesn't exist

	env := map[string]string{}
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	if sessionValues == nil {
		sessionValues = map[string]string{}
	}
	return TemplateContext{ENV: env, Session: sessionValues}
}

// PreprocessTemplate executes input as a template over ctx. Referencing a
// missing key is an error naming the key.
func PreprocessTemplate(input []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New("payload").Option("missingkey=error").Parse(string(input))
	if err != nil {
		return nil, fmt.Errorf("template error: %w", err)
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, ctx); err != nil {
		if matches := missingKeyRegex.FindStringSubmatch(err.Error()); len(matches) == 2 {
			if strings.Contains(err.Error(), ".Session") {
				return nil, fmt.Errorf("missing session value: %s (sign in with \"advx login\")", matches[1])
			}
			return nil, fmt.Errorf("missing environment variable: %s (set it in your shell or .env file)", matches[1])
		}
		return nil, fmt.Errorf("template error: %w", err)
	}

	return output.Bytes(), nil
}
