// Package queryguard decides whether a candidate SQL statement may run.
//
// It is a syntactic allow-list gate, not a parser. It does not check that
// tables or columns exist and does not inspect string literals. It also does
// not split multi-statement payloads: a second statement after a valid SELECT
// passes unless it contains a forbidden operation.
//
// Word boundaries are ASCII: a keyword preceded or followed by a non-ASCII
// letter, as in ÉDROP, still counts as a whole word and is rejected.
package queryguard

import (
	"regexp"
	"strings"
)

const (
	RuleEmpty              = "empty"
	RuleForbiddenOperation = "forbidden_operation"
	RuleNotSelect          = "not_select"

	reasonEmpty     = "empty query"
	reasonNotSelect = "only read-only statements are permitted"
)

type Verdict struct {
	Safe      bool
	Reason    string
	Rule      string
	Operation string
}

type forbiddenOperation struct {
	name    string
	pattern *regexp.Regexp
}

// Checked in this order; the first match names the rejection.
var forbiddenOperations = []forbiddenOperation{
	{name: "DROP", pattern: regexp.MustCompile(`(?i)\bDROP\b`)},
	{name: "DELETE", pattern: regexp.MustCompile(`(?i)\bDELETE\b`)},
	{name: "UPDATE", pattern: regexp.MustCompile(`(?i)\bUPDATE\b`)},
	{name: "INSERT", pattern: regexp.MustCompile(`(?i)\bINSERT\b`)},
	{name: "ALTER", pattern: regexp.MustCompile(`(?i)\bALTER\b`)},
	{name: "TRUNCATE", pattern: regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
	{name: "CREATE TABLE", pattern: regexp.MustCompile(`(?i)\bCREATE\s+TABLE\b`)},
	{name: "GRANT", pattern: regexp.MustCompile(`(?i)\bGRANT\b`)},
	{name: "REVOKE", pattern: regexp.MustCompile(`(?i)\bREVOKE\b`)},
}

var (
	selectPrefix    = regexp.MustCompile(`(?i)^SELECT\b`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// Check applies the rules in order and returns on the first failure:
// empty input, any forbidden operation anywhere in the text, then a required
// leading SELECT.
func Check(candidate string) Verdict {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return Verdict{Reason: reasonEmpty, Rule: RuleEmpty}
	}

	for _, op := range forbiddenOperations {
		if op.pattern.MatchString(trimmed) {
			return Verdict{
				Reason:    "forbidden operation: " + op.name,
				Rule:      RuleForbiddenOperation,
				Operation: op.name,
			}
		}
	}

	if !selectPrefix.MatchString(trimmed) {
		return Verdict{Reason: reasonNotSelect, Rule: RuleNotSelect}
	}
	return Verdict{Safe: true}
}

// Sanitize collapses whitespace runs to single spaces and trims the result.
func Sanitize(sql string) string {
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(sql, " "))
}

func ForbiddenOperations() []string {
	names := make([]string, 0, len(forbiddenOperations))
	for _, op := range forbiddenOperations {
		names = append(names, op.name)
	}
	return names
}
