package sqlcheck

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenNumber
	tokenString
	tokenPunct
)

type token struct {
	kind   tokenKind
	text   string
	quoted bool
}

func (t token) isPunct(text string) bool {
	return t.kind == tokenPunct && t.text == text
}

// tokenize splits a statement into words, numbers, string literals,
// and punctuation. Comments are discarded. String literals and quoted
// identifiers shield their contents from keyword matching.
func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := strings.Index(string(runes[i+2:]), "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i += 2 + end + 2

		case r == '\'':
			text, next, err := scanQuoted(runes, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: text})
			i = next

		case r == '"':
			text, next, err := scanQuoted(runes, i, '"')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenWord, text: text, quoted: true})
			i = next

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i])})

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i])})

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens, nil
}

// scanQuoted reads a quoted region starting at the opening quote.
// Doubled quotes escape the delimiter.
func scanQuoted(runes []rune, i int, quote rune) (string, int, error) {
	var builder strings.Builder
	i++
	for i < len(runes) {
		if runes[i] == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				builder.WriteRune(quote)
				i += 2
				continue
			}
			return builder.String(), i + 1, nil
		}
		builder.WriteRune(runes[i])
		i++
	}
	return "", i, fmt.Errorf("unterminated quote starting with %q", string(quote))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}
