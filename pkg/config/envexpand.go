package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in configuration content using Go
// templates. Uses {{.VAR_NAME}} syntax to avoid collision with $ in literal
// values.
//
// This prevents conflicts with literal $ characters commonly found in:
//   - Passwords and API keys: p@ss$word
//   - Regex patterns in blacklists: ^.*\.gov\.br$
//   - Shell snippets embedded in values: $PATH
//
// Examples:
//   - {{.SERPER_API_KEY}} → value of SERPER_API_KEY environment variable
//   - {{.DB_HOST}}:{{.DB_PORT}} → hostname:port with both variables expanded
//   - {{.SGLANG_BASE_URL}} → the self-hosted backend URL this worker is pinned to
//
// Missing variables expand to empty string (unless template is malformed).
// Validation should catch required fields that are empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// If template parsing fails, return original data
		// This allows content without any template syntax to pass through
		return data
	}

	// Build environment map for template
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			key := env[:idx]
			value := env[idx+1:]
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		// If execution fails, return original data
		return data
	}

	return buf.Bytes()
}
