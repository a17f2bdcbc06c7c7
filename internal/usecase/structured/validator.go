package structured

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/recall/internal/domain"
)

// allowedKeywords are SQL keywords a generated SELECT may contain. Joins are
// absent on purpose: a query targets exactly one view.
var allowedKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"order": true, "limit": true, "offset": true, "as": true, "and": true,
	"or": true, "not": true, "in": true, "between": true, "like": true,
	"is": true, "null": true, "distinct": true, "asc": true, "desc": true,
	"having": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "cast": true, "integer": true, "real": true, "text": true,
}

// allowedFunctions are scalar and aggregate functions safe on read-only data.
var allowedFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"total": true, "round": true, "abs": true, "length": true,
	"lower": true, "upper": true, "date": true, "time": true,
	"datetime": true, "strftime": true, "julianday": true, "coalesce": true,
}

var (
	identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	aliasRe      = regexp.MustCompile(`\bas\s+([a-z_][a-z0-9_]*)`)
	fromRe       = regexp.MustCompile(`\bfrom\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// validateQuery checks a generated statement against the declared view before
// anything touches the database: single SELECT, one whitelisted view after
// FROM, and every identifier either a keyword, an allowed function, the view
// name, or one of its columns.
func validateQuery(query string, view domain.StructuredView) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")

	if strings.ContainsRune(q, ';') {
		return fmt.Errorf("multiple statements: %w", domain.ErrQueryGeneration)
	}

	stripped := stripStringLiterals(q)
	lower := strings.ToLower(stripped)

	if !strings.HasPrefix(strings.TrimSpace(lower), "select") {
		return fmt.Errorf("not a SELECT statement: %w", domain.ErrQueryGeneration)
	}

	// Every FROM must reference the single declared view.
	froms := fromRe.FindAllStringSubmatch(lower, -1)
	if len(froms) == 0 {
		return fmt.Errorf("missing FROM clause: %w", domain.ErrQueryGeneration)
	}
	for _, m := range froms {
		if m[1] != strings.ToLower(view.Name) {
			return fmt.Errorf("query targets %q, not view %q: %w", m[1], view.Name, domain.ErrQueryGeneration)
		}
	}

	columns := make(map[string]bool, len(view.Columns))
	for _, c := range view.Columns {
		columns[strings.ToLower(c.Name)] = true
	}

	// Aliases introduced with AS are legal references later in the query.
	aliases := make(map[string]bool)
	for _, m := range aliasRe.FindAllStringSubmatch(lower, -1) {
		aliases[m[1]] = true
	}

	for _, ident := range identifierRe.FindAllString(lower, -1) {
		switch {
		case allowedKeywords[ident], allowedFunctions[ident]:
		case ident == strings.ToLower(view.Name):
		case columns[ident], aliases[ident]:
		default:
			return fmt.Errorf("identifier %q not in view %q: %w", ident, view.Name, domain.ErrQueryGeneration)
		}
	}

	return nil
}

// stripStringLiterals blanks out single-quoted literals so their content is
// not mistaken for identifiers. Doubled quotes inside literals are handled.
func stripStringLiterals(q string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c == '\'' {
			if inString && i+1 < len(q) && q[i+1] == '\'' {
				i++ // escaped quote stays inside the literal
				continue
			}
			inString = !inString
			b.WriteByte(' ')
			continue
		}
		if inString {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
