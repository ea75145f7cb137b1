package config

import (
	"fmt"
	"os"
	"strings"
)

// SubstituteEnvVars replaces environment variable references in config
// content. Supported forms:
//   - ${VAR}            basic substitution (empty string when unset)
//   - ${VAR:-default}   default when VAR is empty/unset
//   - ${VAR:?message}   error when VAR is empty/unset (message optional)
//   - $${VAR}           escape, yields literal ${VAR}
func SubstituteEnvVars(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	var firstErr error
	rest := content

	for {
		idx := strings.Index(rest, "${")
		if idx == -1 {
			out.WriteString(rest)
			break
		}

		// Escaped form: $${VAR} emits the reference literally.
		if idx > 0 && rest[idx-1] == '$' {
			out.WriteString(rest[:idx-1])
			end := strings.Index(rest[idx:], "}")
			if end == -1 {
				out.WriteString(rest[idx:])
				break
			}
			out.WriteString(rest[idx : idx+end+1])
			rest = rest[idx+end+1:]
			continue
		}

		out.WriteString(rest[:idx])
		end := strings.Index(rest[idx:], "}")
		if end == -1 {
			// Unclosed reference passes through untouched.
			out.WriteString(rest[idx:])
			break
		}

		expr := rest[idx+2 : idx+end]
		value, err := expandVar(expr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out.WriteString(value)
		rest = rest[idx+end+1:]
	}

	return out.String(), firstErr
}

// expandVar resolves a single VAR, VAR:-default or VAR:?message expression.
func expandVar(expr string) (string, error) {
	if name, msg, ok := strings.Cut(expr, ":?"); ok {
		name = strings.TrimSpace(name)
		msg = strings.TrimSpace(msg)
		value := os.Getenv(name)
		if value == "" {
			if msg == "" {
				msg = fmt.Sprintf("required environment variable %s is not set", name)
			}
			return "", fmt.Errorf("%s", msg)
		}
		return value, nil
	}

	if name, def, ok := strings.Cut(expr, ":-"); ok {
		name = strings.TrimSpace(name)
		if value := os.Getenv(name); value != "" {
			return value, nil
		}
		return strings.TrimSpace(def), nil
	}

	return os.Getenv(expr), nil
}
