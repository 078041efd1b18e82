// Package sqlcheck decides whether a candidate SQL statement is safe to
// run against the target database. Only single read-only SELECT
// statements touching allow-listed tables pass.
package sqlcheck

import (
	"fmt"
	"strings"
)

type Reason string

const (
	ReasonOK              Reason = "OK"
	ReasonWriteOperation  Reason = "WRITE_OPERATION"
	ReasonMultiStatement  Reason = "MULTI_STATEMENT"
	ReasonDisallowedTable Reason = "DISALLOWED_TABLE"
	ReasonSyntaxSuspect   Reason = "SYNTAX_SUSPECT"
)

// Verdict is the validator's decision for one candidate statement.
// Normalized holds the statement with markdown fences and trailing
// semicolons stripped; it is what the executor should run when
// Accepted is true. Detail names the offending keyword or table for
// rejections, so the caller can feed it back to the model.
type Verdict struct {
	Accepted   bool
	Reason     Reason
	Normalized string
	Detail     string
}

// Keywords that mark a statement as mutating or administrative. A
// match anywhere outside strings and comments rejects the statement.
// "into" covers SELECT ... INTO, which creates a table on Postgres.
var forbiddenKeywords = map[string]bool{
	"insert":   true,
	"into":     true,
	"update":   true,
	"delete":   true,
	"drop":     true,
	"alter":    true,
	"create":   true,
	"truncate": true,
	"merge":    true,
	"grant":    true,
	"revoke":   true,
	"exec":     true,
	"execute":  true,
}

// Keywords that end a table reference list inside a FROM clause.
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "having": true,
	"limit": true, "offset": true, "union": true, "intersect": true,
	"except": true, "on": true, "using": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "fetch": true, "window": true,
	"for": true, "tablesample": true,
}

// Validate inspects one candidate statement. An empty allowedTables
// slice disables the table allow-list entirely.
func Validate(raw string, allowedTables []string) Verdict {
	normalized := Normalize(raw)
	if normalized == "" {
		return Verdict{Reason: ReasonSyntaxSuspect, Detail: "empty statement"}
	}

	tokens, err := tokenize(normalized)
	if err != nil {
		return Verdict{Reason: ReasonSyntaxSuspect, Normalized: normalized, Detail: err.Error()}
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].isPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return Verdict{Reason: ReasonSyntaxSuspect, Normalized: normalized, Detail: "empty statement"}
	}

	for _, tok := range tokens {
		if tok.isPunct(";") {
			return Verdict{Reason: ReasonMultiStatement, Normalized: normalized, Detail: "statement contains a semicolon separator"}
		}
	}

	for _, tok := range tokens {
		if tok.kind != tokenWord || tok.quoted {
			continue
		}
		word := strings.ToLower(tok.text)
		if forbiddenKeywords[word] {
			return Verdict{Reason: ReasonWriteOperation, Normalized: normalized, Detail: word}
		}
	}

	first := strings.ToLower(tokens[0].text)
	if tokens[0].kind != tokenWord || tokens[0].quoted || (first != "select" && first != "with") {
		return Verdict{Reason: ReasonSyntaxSuspect, Normalized: normalized, Detail: fmt.Sprintf("statement does not start with SELECT or WITH: %q", tokens[0].text)}
	}

	if len(allowedTables) > 0 {
		allowed := make(map[string]bool, len(allowedTables))
		for _, table := range allowedTables {
			allowed[strings.ToLower(strings.TrimSpace(table))] = true
		}
		for _, table := range referencedTables(tokens) {
			if allowed[table] || allowed[lastSegment(table)] {
				continue
			}
			return Verdict{Reason: ReasonDisallowedTable, Normalized: normalized, Detail: table}
		}
	}

	return Verdict{Accepted: true, Reason: ReasonOK, Normalized: normalized}
}

// Normalize strips markdown code fences, surrounding whitespace, and
// trailing semicolons from a model-produced statement.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if newline := strings.IndexByte(text, '\n'); newline >= 0 {
			head := strings.TrimSpace(text[:newline])
			if head == "" || isLanguageTag(head) {
				text = text[newline+1:]
			}
		} else {
			text = strings.TrimSpace(text)
			text = strings.TrimSuffix(text, "```")
		}
		text = strings.TrimSpace(text)
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

func isLanguageTag(head string) bool {
	for _, r := range head {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// referencedTables returns the lowercased table names appearing after
// FROM and JOIN, excluding subqueries, table functions, and names
// defined as CTEs in the statement itself.
func referencedTables(tokens []token) []string {
	ctes := cteNames(tokens)
	var tables []string
	seen := map[string]bool{}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.kind != tokenWord {
			continue
		}
		word := strings.ToLower(tok.text)
		if word != "from" && word != "join" {
			continue
		}
		next := i + 1
		for {
			next = collectTableRef(tokens, next, ctes, seen, &tables)
			if next < len(tokens) && tokens[next].isPunct(",") && word == "from" {
				next++
				continue
			}
			break
		}
	}
	return tables
}

// collectTableRef reads one table reference starting at position i and
// returns the position after the reference and its optional alias.
func collectTableRef(tokens []token, i int, ctes map[string]bool, seen map[string]bool, tables *[]string) int {
	if i >= len(tokens) {
		return i
	}
	if tokens[i].isPunct("(") {
		return skipParens(tokens, i)
	}
	if tokens[i].kind != tokenWord {
		return i
	}
	if strings.ToLower(tokens[i].text) == "lateral" {
		i++
		return collectTableRef(tokens, i, ctes, seen, tables)
	}

	name := strings.ToLower(tokens[i].text)
	i++
	for i+1 < len(tokens) && tokens[i].isPunct(".") && tokens[i+1].kind == tokenWord {
		name += "." + strings.ToLower(tokens[i+1].text)
		i += 2
	}

	// A name directly followed by an open paren is a table function,
	// not a table reference.
	if i < len(tokens) && tokens[i].isPunct("(") {
		return skipParens(tokens, i)
	}

	if !ctes[name] && !ctes[lastSegment(name)] && !seen[name] {
		seen[name] = true
		*tables = append(*tables, name)
	}

	// Optional alias, with or without AS.
	if i < len(tokens) && tokens[i].kind == tokenWord {
		word := strings.ToLower(tokens[i].text)
		if word == "as" {
			i++
			if i < len(tokens) && tokens[i].kind == tokenWord {
				i++
			}
		} else if !clauseKeywords[word] {
			i++
		}
	}
	return i
}

// cteNames finds names bound by WITH clauses. The shape is always an
// identifier, an optional parenthesized column list, AS, and an open
// paren.
func cteNames(tokens []token) map[string]bool {
	names := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		if tokens[i].kind != tokenWord {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].isPunct("(") {
			j = skipParens(tokens, j)
		}
		if j+1 < len(tokens) &&
			tokens[j].kind == tokenWord && strings.ToLower(tokens[j].text) == "as" &&
			tokens[j+1].isPunct("(") {
			names[strings.ToLower(tokens[i].text)] = true
		}
	}
	return names
}

func skipParens(tokens []token, i int) int {
	if i >= len(tokens) || !tokens[i].isPunct("(") {
		return i
	}
	depth := 1
	i++
	for i < len(tokens) && depth > 0 {
		if tokens[i].isPunct("(") {
			depth++
		} else if tokens[i].isPunct(")") {
			depth--
		}
		i++
	}
	return i
}

func lastSegment(name string) string {
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		return name[dot+1:]
	}
	return name
}
