package groovyast

import "unicode"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokNumber
	tokPunct // braces, parens, dots, commas, operators - classified by text
	tokAnnotationAt
	tokLineComment
	tokBlockComment
)

type token struct {
	kind       tokenKind
	text       string
	line, col  int // 0-based
	startByte  int
	endByte    int
}

var groovyKeywords = map[string]bool{
	"package": true, "import": true, "class": true, "interface": true,
	"trait": true, "enum": true, "def": true, "void": true, "return": true,
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"switch": true, "case": true, "default": true, "try": true, "catch": true,
	"finally": true, "throw": true, "throws": true, "new": true, "this": true,
	"super": true, "null": true, "true": true, "false": true, "static": true,
	"public": true, "private": true, "protected": true, "final": true,
	"abstract": true, "synchronized": true, "native": true, "transient": true,
	"volatile": true, "strictfp": true, "extends": true, "implements": true,
	"instanceof": true, "as": true, "in": true, "assert": true, "break": true,
	"continue": true, "goto": true,
}

// lexer tokenizes Groovy source. It is intentionally forgiving: unknown
// byte sequences are skipped rather than raising a lexical error, so
// that the recursive reader can always make progress and report a
// position-accurate error instead of aborting entirely.
type lexer struct {
	src        string
	pos        int
	line, col  int // 0-based
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) advance() byte {
	b := l.src[l.pos]
	l.pos++
	if b == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return b
}

func isIdentStart(b byte) bool {
	return b == '_' || b == '$' || unicode.IsLetter(rune(b))
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

// tokens returns the full token stream for src. Comments are included
// (as tokLineComment / tokBlockComment) so the reader can attach the
// comment immediately preceding a declaration as its doc comment.
func (l *lexer) tokens() []token {
	var out []token
	for l.pos < len(l.src) {
		startLine, startCol, startByte := l.line, l.col, l.pos
		b := l.peekByte()

		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			l.advance()
			continue

		case b == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			for l.pos < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
			out = append(out, token{tokLineComment, l.src[startByte:l.pos], startLine, startCol, startByte, l.pos})
			continue

		case b == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			l.advance()
			l.advance()
			for l.pos < len(l.src) {
				if l.peekByte() == '*' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
			out = append(out, token{tokBlockComment, l.src[startByte:l.pos], startLine, startCol, startByte, l.pos})
			continue

		case b == '"' || b == '\'':
			l.scanString(b)
			out = append(out, token{tokString, l.src[startByte:l.pos], startLine, startCol, startByte, l.pos})
			continue

		case b >= '0' && b <= '9':
			for l.pos < len(l.src) && (isIdentPart(l.peekByte()) || l.peekByte() == '.') {
				l.advance()
			}
			out = append(out, token{tokNumber, l.src[startByte:l.pos], startLine, startCol, startByte, l.pos})
			continue

		case isIdentStart(b):
			for l.pos < len(l.src) && isIdentPart(l.peekByte()) {
				l.advance()
			}
			text := l.src[startByte:l.pos]
			kind := tokIdent
			if groovyKeywords[text] {
				kind = tokKeyword
			}
			out = append(out, token{kind, text, startLine, startCol, startByte, l.pos})
			continue

		case b == '@':
			l.advance()
			out = append(out, token{tokAnnotationAt, "@", startLine, startCol, startByte, l.pos})
			continue

		default:
			l.advance()
			out = append(out, token{tokPunct, string(b), startLine, startCol, startByte, l.pos})
			continue
		}
	}
	out = append(out, token{tokEOF, "", l.line, l.col, l.pos, l.pos})
	return out
}

// scanString consumes a quoted string (including triple-quoted and
// simple GString interpolation bodies) starting at the opening quote.
// It does not attempt to track ${...} nesting token-by-token beyond brace
// counting, which is sufficient since declarations never open inside a
// string literal.
func (l *lexer) scanString(quote byte) {
	triple := l.pos+2 < len(l.src) && l.src[l.pos+1] == quote && l.src[l.pos+2] == quote
	if triple {
		l.advance()
		l.advance()
		l.advance()
		for l.pos < len(l.src) {
			if l.src[l.pos] == quote && l.pos+2 < len(l.src) &&
				l.src[l.pos+1] == quote && l.src[l.pos+2] == quote {
				l.advance()
				l.advance()
				l.advance()
				return
			}
			if l.peekByte() == '\\' && l.pos+1 < len(l.src) {
				l.advance()
			}
			l.advance()
		}
		return
	}

	l.advance()
	for l.pos < len(l.src) {
		c := l.peekByte()
		if c == '\\' && l.pos+1 < len(l.src) {
			l.advance()
			l.advance()
			continue
		}
		if c == quote {
			l.advance()
			return
		}
		if c == '\n' {
			// unterminated string on this line; stop so the caller can
			// still make forward progress and report a syntax error.
			return
		}
		l.advance()
	}
}
