// Package redact strips credentials from strings before they reach
// logs or error responses. The pipeline handles Postgres and Redis
// connection strings, bearer tokens and LLM API keys; any of them can
// leak through a wrapped driver error.
package redact

import "regexp"

// Redaction placeholders.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
)

// rule pairs a pattern with its replacement. Rules apply in order.
type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

var rules = []rule{
	// Connection URLs with inline credentials (postgres://user:pw@host,
	// redis://:pw@host).
	{
		pattern:     regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss|mysql)://[^@\s]+@`),
		placeholder: CredentialPlaceholder + "@",
	},
	// Three-part base64url JWTs.
	{
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		placeholder: TokenPlaceholder,
	},
	// key=value style secrets (api_key, token, secret, password).
	{
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		placeholder: "$1$2" + KeyPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's message.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
