// Package redact strips credentials from values before they are logged.
//
// The relay logs its effective configuration at startup and echoes broker
// and homeserver URLs in connection errors. Passwords, access tokens and API
// keys must never appear in either.
package redact

import (
	"net/url"
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each secret in s with [REDACTED].
// Secrets shorter than 4 characters are ignored to avoid mangling ordinary
// words.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map returns a copy of m in which non-empty string values under
// secret-looking keys are replaced. Nested maps are redacted recursively.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = Map(val)
		case string:
			if val != "" && IsSensitiveKey(k) {
				out[k] = placeholder
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

// URL hides the password component of a URL such as
// redis://:hunter2@cache:6379/0. Unparseable input is returned unchanged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "REDACTED")
	return u.String()
}

// IsSensitiveKey reports whether a field name suggests it holds a secret.
// Paths to key and certificate files are not secrets and are not matched.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasSuffix(lower, "_file") || strings.HasSuffix(lower, "path") || strings.HasSuffix(lower, "cert") {
		return false
	}
	for _, word := range []string{"password", "passwd", "token", "secret", "apikey", "api_key", "credential"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
