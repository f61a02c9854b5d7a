package shared

import (
	"regexp"
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

type redactRule struct {
	re   *regexp.Regexp
	repl string // may keep a prefix via ${1}
}

// Order matters: URL-embedded bot tokens must be handled before the bare
// token rule so the /bot prefix survives.
var redactRules = []redactRule{
	{regexp.MustCompile(`(?im)\b(authorization:\s*)\S.*$`), "${1}" + Placeholder},
	{regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-./+=]{8,}`), "${1}" + Placeholder},
	{regexp.MustCompile(`(?i)\b((?:api[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*"?)[A-Za-z0-9_\-./+=]{8,}`), "${1}" + Placeholder},
	{regexp.MustCompile(`(/bot)\d{5,}:[A-Za-z0-9_\-]{30,}`), "${1}" + Placeholder},
	{regexp.MustCompile(`\b\d{5,}:[A-Za-z0-9_\-]{30,}\b`), Placeholder},
	{regexp.MustCompile(`\bpk_\d+_[A-Z0-9]{20,}\b`), Placeholder},
}

// Redact masks Telegram bot tokens, ClickUp personal tokens and
// authorization material inside free text such as transport errors.
func Redact(s string) string {
	for _, rule := range redactRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

var sensitiveKeyParts = []string{"token", "secret", "password", "auth", "api_key", "apikey", "signature", "credential"}

// SensitiveKey reports whether a log attribute or config key names a
// secret whose value must never be printed.
func SensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
