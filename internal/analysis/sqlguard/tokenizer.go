package sqlguard

import (
	"strings"
	"unicode"
)

// tokenKind classifies the lexemes of the narrow statement shape this system
// accepts: one SELECT with optional trailing LIMIT, terminator and comments.
type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokQuotedIdent
	tokLineComment
	tokBlockComment
	tokSemicolon
	tokLParen
	tokRParen
	tokPlaceholderNamed      // :name
	tokPlaceholderPositional // $1
	tokSymbol
)

// token carries its raw text plus byte offsets into the source so the
// validator can splice replacements without re-rendering the statement.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
	depth int // parenthesis nesting depth at the token's position
}

func (t token) isComment() bool {
	return t.kind == tokLineComment || t.kind == tokBlockComment
}

// keywordEquals compares a word token against a SQL keyword, case-insensitively.
func (t token) keywordEquals(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

// tokenize scans raw SQL into tokens. It is total: unterminated strings and
// comments extend to the end of input rather than failing, since the explain
// pass is the authority on syntax.
func tokenize(src string) []token {
	var tokens []token
	depth := 0
	i := 0
	n := len(src)

	emit := func(kind tokenKind, start, end int) {
		tokens = append(tokens, token{kind: kind, text: src[start:end], start: start, end: end, depth: depth})
	}

	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '\'':
			start := i
			i++
			for i < n {
				if src[i] == '\'' {
					if i+1 < n && src[i+1] == '\'' { // '' escape
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			emit(tokString, start, i)

		case c == '"':
			start := i
			i++
			for i < n {
				if src[i] == '"' {
					if i+1 < n && src[i+1] == '"' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			emit(tokQuotedIdent, start, i)

		case c == '-' && i+1 < n && src[i+1] == '-':
			start := i
			for i < n && src[i] != '\n' {
				i++
			}
			emit(tokLineComment, start, i)

		case c == '/' && i+1 < n && src[i+1] == '*':
			start := i
			i += 2
			nesting := 1
			for i < n && nesting > 0 {
				switch {
				case i+1 < n && src[i] == '/' && src[i+1] == '*':
					nesting++
					i += 2
				case i+1 < n && src[i] == '*' && src[i+1] == '/':
					nesting--
					i += 2
				default:
					i++
				}
			}
			emit(tokBlockComment, start, i)

		case c == ';':
			emit(tokSemicolon, i, i+1)
			i++

		case c == '(':
			emit(tokLParen, i, i+1)
			depth++
			i++

		case c == ')':
			if depth > 0 {
				depth--
			}
			emit(tokRParen, i, i+1)
			i++

		case c == ':':
			if i+1 < n && (src[i+1] == ':' || src[i+1] == '=') {
				// cast or assignment, not a bind marker
				emit(tokSymbol, i, i+2)
				i += 2
				break
			}
			if i+1 < n && isIdentStart(src[i+1]) {
				start := i
				i++
				for i < n && isIdentPart(src[i]) {
					i++
				}
				emit(tokPlaceholderNamed, start, i)
				break
			}
			emit(tokSymbol, i, i+1)
			i++

		case c == '$':
			if end, ok := scanDollarQuote(src, i); ok {
				emit(tokString, i, end)
				i = end
				break
			}
			if i+1 < n && isDigit(src[i+1]) {
				start := i
				i++
				for i < n && isDigit(src[i]) {
					i++
				}
				emit(tokPlaceholderPositional, start, i)
				break
			}
			emit(tokSymbol, i, i+1)
			i++

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(src[i]) {
				i++
			}
			emit(tokWord, start, i)

		case isDigit(c):
			start := i
			for i < n && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			emit(tokNumber, start, i)

		default:
			emit(tokSymbol, i, i+1)
			i++
		}
	}

	return tokens
}

// scanDollarQuote recognises $$...$$ and $tag$...$tag$ string literals starting
// at position i. Returns the end offset past the closing delimiter.
func scanDollarQuote(src string, i int) (int, bool) {
	j := i + 1
	for j < len(src) && isIdentPart(src[j]) {
		j++
	}
	if j >= len(src) || src[j] != '$' {
		return 0, false
	}
	delim := src[i : j+1]
	closing := strings.Index(src[j+1:], delim)
	if closing < 0 {
		return len(src), true // unterminated, runs to EOF
	}
	return j + 1 + closing + len(delim), true
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
