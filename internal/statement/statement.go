// Package statement classifies SQL text without executing it.
// It uses xwb1989/sqlparser for the statement kind, a normalized rendering
// and the referenced tables. Dialects the parser does not understand still
// get a kind from the leading keyword; Parsed reports whether the full parse
// succeeded.
package statement

import (
	"errors"
	"sort"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Info describes one statement.
type Info struct {
	// Type is the statement kind in upper case (SELECT, INSERT, DDL, ...).
	Type string

	// Parsed is true when the whole statement parsed.
	Parsed bool

	// Normalized is the parser's canonical rendering. Empty unless Parsed.
	Normalized string

	// Tables are the referenced table names. Empty unless Parsed.
	Tables []string

	// ReadOnly is true for statements that cannot modify data.
	ReadOnly bool
}

// Errors returned by ExplainTarget.
var (
	ErrEmptyStatement     = errors.New("statement is empty")
	ErrMultipleStatements = errors.New("text holds more than one statement")
	ErrNestedExplain      = errors.New("statement is already an EXPLAIN or ANALYZE")
)

// readOnlyKeywords are leading keywords that never modify data, beyond the
// ones the parser's preview recognises.
var readOnlyKeywords = map[string]bool{
	"describe":  true,
	"desc":      true,
	"values":    true,
	"summarize": true,
}

// writeKeywords mark a WITH statement as modifying data wherever they
// appear outside string literals.
var writeKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"replace":  true,
	"merge":    true,
	"upsert":   true,
	"create":   true,
	"drop":     true,
	"alter":    true,
	"truncate": true,
	"copy":     true,
	"call":     true,
	"grant":    true,
	"revoke":   true,
	"attach":   true,
	"detach":   true,
	"set":      true,
	"lock":     true,
}

// explainOptions may follow EXPLAIN before the explained statement.
var explainOptions = map[string]bool{
	"analyze":  true,
	"analyse":  true,
	"verbose":  true,
	"query":    true,
	"plan":     true,
	"extended": true,
}

// Classify inspects text and reports what kind of statement it is.
func Classify(text string) Info {
	text = strings.TrimSpace(text)
	kind := sqlparser.Preview(text)

	info := Info{
		Type:     sqlparser.StmtType(kind),
		ReadOnly: readOnly(text, kind),
	}
	if kind == sqlparser.StmtUnknown || kind == sqlparser.StmtOther {
		if kw := firstKeyword(text); kw != "" {
			info.Type = strings.ToUpper(kw)
		}
	}

	stmt, err := sqlparser.Parse(text)
	if err != nil {
		return info
	}
	info.Parsed = true
	info.Normalized = sqlparser.String(stmt)
	info.Tables = tables(stmt)
	return info
}

// IsReadOnly reports whether text cannot modify data. Every statement of a
// multi-statement text must be read-only; text the tokenizer rejects is not.
func IsReadOnly(text string) bool {
	pieces, err := sqlparser.SplitStatementToPieces(text)
	if err != nil {
		return false
	}
	seen := false
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		if !Classify(piece).ReadOnly {
			return false
		}
		seen = true
	}
	return seen
}

// ExplainTarget returns the single statement in text, trimmed and without
// its terminating semicolon, ready to follow an EXPLAIN keyword. Text with
// no statement, several statements, or a leading EXPLAIN or ANALYZE is
// rejected.
func ExplainTarget(text string) (string, error) {
	pieces, err := sqlparser.SplitStatementToPieces(text)
	if err != nil {
		return "", err
	}
	target := ""
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if target != "" {
			return "", ErrMultipleStatements
		}
		target = piece
	}
	if target == "" {
		return "", ErrEmptyStatement
	}
	switch firstKeyword(target) {
	case "explain", "analyze", "analyse":
		return "", ErrNestedExplain
	}
	return target, nil
}

func readOnly(text string, kind int) bool {
	switch kw := firstKeyword(text); kw {
	case "explain":
		return explainReadOnly(text)
	case "with":
		return withReadOnly(text)
	default:
		return kind == sqlparser.StmtSelect || kind == sqlparser.StmtShow || readOnlyKeywords[kw]
	}
}

// explainReadOnly judges an EXPLAIN by the statement it explains;
// EXPLAIN ANALYZE runs it.
func explainReadOnly(text string) bool {
	rest := strings.TrimSpace(sqlparser.StripLeadingComments(text))
	rest = rest[len("explain"):]
	for {
		rest = strings.TrimSpace(sqlparser.StripLeadingComments(rest))
		if strings.HasPrefix(rest, "(") {
			end := strings.IndexByte(rest, ')')
			if end == -1 {
				return false
			}
			rest = rest[end+1:]
			continue
		}
		kw := firstKeyword(rest)
		if !explainOptions[kw] {
			break
		}
		rest = rest[len(kw):]
	}
	if rest == "" {
		return false
	}
	return readOnly(rest, sqlparser.Preview(rest))
}

// withReadOnly decides from the parsed statement when the parser accepts
// it. Otherwise it scans the tokens: the top-level statement must be a
// SELECT and no write keyword may appear, so unknown forms count as writes.
func withReadOnly(text string) bool {
	if stmt, err := sqlparser.Parse(text); err == nil {
		switch stmt.(type) {
		case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect, *sqlparser.Show:
			return true
		}
		return false
	}

	tokens := sqlparser.NewStringTokenizer(text)
	depth := 0
	selects := false
	for {
		typ, val := tokens.Scan()
		switch typ {
		case 0:
			return selects && depth == 0
		case sqlparser.LEX_ERROR:
			return false
		case '(':
			depth++
			continue
		case ')':
			depth--
			continue
		case sqlparser.STRING, sqlparser.COMMENT:
			continue
		}
		word := strings.ToLower(string(val))
		if writeKeywords[word] {
			return false
		}
		if depth == 0 && word == "select" {
			selects = true
		}
	}
}

func firstKeyword(text string) string {
	trimmed := strings.TrimSpace(sqlparser.StripLeadingComments(text))
	if end := strings.IndexFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '(' || r == ';'
	}); end != -1 {
		trimmed = trimmed[:end]
	}
	return strings.ToLower(trimmed)
}

func tables(stmt sqlparser.Statement) []string {
	seen := make(map[string]bool)
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if tn, ok := node.(sqlparser.TableName); ok && !tn.IsEmpty() {
			name := tn.Name.String()
			if !tn.Qualifier.IsEmpty() {
				name = tn.Qualifier.String() + "." + name
			}
			seen[name] = true
		}
		return true, nil
	}, stmt)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
