package trunnel

import (
	"fmt"
	"strings"
)

const eof = -1

// Lexer turns schema source text into a flat token stream. It is the
// external collaborator named in spec.md §1/§6: the specification does
// not define the grammar in detail, only the token forms it must produce
// (identifiers, integers, keywords, punctuators, and doc-comments). This
// implementation is intentionally small and unoptimized, matching the
// "not the subject of the specification" framing.
type Lexer struct {
	input  []rune
	cursor int
	line   int

	// pendingDoc accumulates the most recently seen doxygen-style comment
	// so the Parser can attach it to the next declaration.
	pendingDoc string
}

// NewLexer constructs a Lexer over the given schema source.
func NewLexer(src string) *Lexer {
	return &Lexer{input: []rune(src), line: 1}
}

func (l *Lexer) peek() rune {
	if l.cursor >= len(l.input) {
		return eof
	}
	return l.input[l.cursor]
}

func (l *Lexer) peekAt(off int) rune {
	if l.cursor+off >= len(l.input) {
		return eof
	}
	return l.input[l.cursor+off]
}

func (l *Lexer) advance() rune {
	r := l.peek()
	if r == eof {
		return eof
	}
	l.cursor++
	if r == '\n' {
		l.line++
	}
	return r
}

// TakeDoc returns and clears any doc-comment text collected immediately
// before the current token.
func (l *Lexer) TakeDoc() string {
	doc := l.pendingDoc
	l.pendingDoc = ""
	return doc
}

// Next scans and returns the next token, skipping whitespace, line
// comments ("//") and accumulating doxygen comments ("/** ... */") into
// pendingDoc rather than discarding them.
func (l *Lexer) Next() (Token, error) {
	for {
		l.skipSpace()
		if l.peek() == '/' && l.peekAt(1) == '/' {
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peekAt(1) == '*' {
			doc, err := l.scanBlockComment()
			if err != nil {
				return Token{}, err
			}
			if doc != "" {
				l.pendingDoc = doc
			}
			continue
		}
		break
	}

	start := l.cursor
	line := l.line

	r := l.peek()
	switch {
	case r == eof:
		return Token{Kind: TokEOF, Rg: NewRange(start, start, line)}, nil
	case isDigit(r):
		return l.scanInt(start, line)
	case isIdentStart(r):
		return l.scanIdentOrKeyword(start, line)
	default:
		return l.scanPunct(start, line)
	}
}

func (l *Lexer) skipSpace() {
	for l.peek() == ' ' || l.peek() == '\t' || l.peek() == '\r' || l.peek() == '\n' {
		l.advance()
	}
}

func (l *Lexer) skipLineComment() {
	for l.peek() != '\n' && l.peek() != eof {
		l.advance()
	}
}

func (l *Lexer) scanBlockComment() (string, error) {
	var b strings.Builder
	isDoc := l.peekAt(2) == '*' && l.peekAt(3) != '/'
	l.advance()
	l.advance()
	if isDoc {
		l.advance() // the second '*' of "/**" is not part of the doc text
	}
	for {
		if l.peek() == eof {
			return "", fmt.Errorf("unterminated block comment at line %d", l.line)
		}
		if l.peek() == '*' && l.peekAt(1) == '/' {
			l.advance()
			l.advance()
			break
		}
		b.WriteRune(l.advance())
	}
	if !isDoc {
		return "", nil
	}
	return strings.TrimSpace(b.String()), nil
}

func (l *Lexer) scanInt(start, line int) (Token, error) {
	for isDigit(l.peek()) {
		l.advance()
	}
	text := string(l.input[start:l.cursor])
	var v int64
	for _, c := range text {
		v = v*10 + int64(c-'0')
	}
	return Token{Kind: TokInt, Text: text, Value: v, Rg: NewRange(start, l.cursor, line)}, nil
}

func (l *Lexer) scanIdentOrKeyword(start, line int) (Token, error) {
	for isIdentPart(l.peek()) {
		l.advance()
	}
	text := string(l.input[start:l.cursor])
	kind := TokIdent
	if keywords[text] {
		kind = TokKeyword
	}
	return Token{Kind: kind, Text: text, Rg: NewRange(start, l.cursor, line)}, nil
}

func (l *Lexer) scanPunct(start, line int) (Token, error) {
	r := l.advance()
	text := string(r)
	// Two-character punctuators used by the grammar: ".." (range/leftover)
	if r == '.' && l.peek() == '.' {
		l.advance()
		text = ".."
	}
	return Token{Kind: TokPunct, Text: text, Rg: NewRange(start, l.cursor, line)}, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}
