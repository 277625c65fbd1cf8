package cliutil

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretKeyPattern   = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretNamePattern  = regexp.MustCompile(`(?i)(secret|password|passwd|token|api_?key|private_?key)`)
)

func secretKeys() []string {
	keys := []string{
		"SECRET_KEY",
		"JWT_SECRET",
		"DATABASE_URL",
		"DATABASE_PASSWORD",
		"DB_PASSWORD",
		"POSTGRES_PASSWORD",
		"REDIS_PASSWORD",
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"API_KEY",
		"ACCESS_TOKEN",
		"REFRESH_TOKEN",
		"CLIENT_SECRET",
		"password",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks ${VAR} references and the values of well-known secret
// assignments such as SECRET_KEY=... in a backend output line.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(match string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}

// RedactEnv returns a copy of env with the values of secret-looking variables
// masked.
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		if secretNamePattern.MatchString(key) {
			value = redactedPlaceholder
		}
		out[key] = value
	}
	return out
}

// EnvKeys returns the sorted variable names in env.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
