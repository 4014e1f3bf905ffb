package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor scrubs secrets from log fields and messages
type Redactor struct {
	keys     []string
	patterns []*regexp.Regexp
}

// DefaultRedactor hides credential-like keys, bearer tokens, JWTs and
// WireGuard key material.
func DefaultRedactor() *Redactor {
	return &Redactor{
		keys: []string{"password", "secret", "token", "authorization", "private_key", "privatekey", "presharedkey", "api_key", "cookie"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
			regexp.MustCompile(`(?i)(PrivateKey|PresharedKey)\s*=\s*\S+`),
		},
	}
}

func (r *Redactor) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Redact replaces every sensitive pattern in s
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactFields returns a copy of fields with sensitive values hidden.
// Nested maps are walked; string values are pattern-scrubbed.
func (r *Redactor) RedactFields(fields map[string]interface{}) map[string]interface{} {
	if r == nil || fields == nil {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if r.sensitive(k) {
			out[k] = redacted
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = r.Redact(val)
		case map[string]interface{}:
			out[k] = r.RedactFields(val)
		default:
			out[k] = v
		}
	}
	return out
}
