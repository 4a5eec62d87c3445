package schemaindex

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	declarationPattern = regexp.MustCompile(`(?i)\bcreate\s+table\b`)
	ifNotExistsPattern = regexp.MustCompile(`(?i)^if\s+not\s+exists\s+`)
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)*$`)
)

// parseDocuments splits schema text into one document per CREATE TABLE
// segment. Text ahead of the first declaration is not indexed. Declarations
// inside comments or string literals do not start a segment; they stay part
// of the surrounding document's text.
func parseDocuments(schemaText string) []Document {
	bounds := declarationPattern.FindAllStringIndex(maskCommentsAndLiterals(schemaText), -1)
	documents := make([]Document, 0, len(bounds))
	for position, bound := range bounds {
		end := len(schemaText)
		if position+1 < len(bounds) {
			end = bounds[position+1][0]
		}

		tableName := extractTableName(schemaText[bound[1]:end])
		documents = append(documents, Document{
			ID:        documentID(tableName, position),
			TableName: tableName,
			RawText:   strings.TrimSpace(schemaText[bound[0]:end]),
			Tags: map[string]string{
				"table": tableName,
				"type":  documentType,
			},
			Position: position,
		})
	}
	return documents
}

// maskCommentsAndLiterals blanks out -- and /* */ comments and single-quoted
// literals. The result has the same length as text, so match offsets apply
// to the original.
func maskCommentsAndLiterals(text string) string {
	masked := []byte(text)
	for i := 0; i < len(masked); {
		var end int
		switch {
		case strings.HasPrefix(text[i:], "--"):
			end = strings.IndexByte(text[i:], '\n')
		case strings.HasPrefix(text[i:], "/*"):
			end = strings.Index(text[i+2:], "*/")
			if end >= 0 {
				end += 4
			}
		case text[i] == '\'':
			end = strings.IndexByte(text[i+1:], '\'')
			if end >= 0 {
				end += 2
			}
		default:
			i++
			continue
		}
		if end < 0 {
			end = len(text) - i
		}
		for j := i; j < i+end; j++ {
			if masked[j] != '\n' {
				masked[j] = ' '
			}
		}
		i += end
	}
	return string(masked)
}

// extractTableName returns the identifier between the declaration keyword and
// the first opening parenthesis, or "" when none can be parsed.
func extractTableName(afterKeyword string) string {
	open := strings.IndexByte(afterKeyword, '(')
	if open < 0 {
		return ""
	}
	candidate := strings.TrimSpace(afterKeyword[:open])
	candidate = ifNotExistsPattern.ReplaceAllString(candidate, "")
	candidate = unquoteIdentifier(candidate)
	if !identifierPattern.MatchString(candidate) {
		return ""
	}
	return candidate
}

func unquoteIdentifier(value string) string {
	parts := strings.Split(value, ".")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) >= 2 {
			first, last := part[0], part[len(part)-1]
			if (first == '"' && last == '"') || (first == '`' && last == '`') || (first == '[' && last == ']') {
				part = part[1 : len(part)-1]
			}
		}
		parts[i] = part
	}
	return strings.Join(parts, ".")
}

func documentID(tableName string, position int) string {
	if tableName == "" {
		return fmt.Sprintf("table_unknown_%d", position)
	}
	return fmt.Sprintf("table_%s_%d", tableName, position)
}
