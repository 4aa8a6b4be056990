package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in input with values from
// the process environment.
//
// ${VAR} expands to the value or "" when unset. ${VAR:-default} expands
// to default when VAR is unset or empty. Unset variables are not errors;
// a missing URL or path fails later when the component is built.
func ExpandEnv(input string) string {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := lookup(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}
