package trunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	l := NewLexer(src)
	var toks []Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			break
		}
	}
	return toks
}

func TestLexerBasicTokens(t *testing.T) {
	toks := lexAll(t, "struct Foo { u8 n; }")
	require.Equal(t, TokKeyword, toks[0].Kind)
	require.Equal(t, "struct", toks[0].Text)
	require.Equal(t, TokIdent, toks[1].Kind)
	require.Equal(t, "Foo", toks[1].Text)
	require.Equal(t, TokPunct, toks[2].Kind)
	require.Equal(t, "{", toks[2].Text)
	require.Equal(t, TokIdent, toks[3].Kind)
	require.Equal(t, "u8", toks[3].Text)
}

func TestLexerIntegerLiteral(t *testing.T) {
	toks := lexAll(t, "42")
	require.Equal(t, TokInt, toks[0].Kind)
	require.EqualValues(t, 42, toks[0].Value)
}

func TestLexerRangePunctuator(t *testing.T) {
	toks := lexAll(t, "1..3")
	require.Equal(t, TokInt, toks[0].Kind)
	require.Equal(t, TokPunct, toks[1].Kind)
	require.Equal(t, "..", toks[1].Text)
	require.Equal(t, TokInt, toks[2].Kind)
}

func TestLexerLineCommentSkipped(t *testing.T) {
	toks := lexAll(t, "u8 n; // trailing comment\nu8 m;")
	var texts []string
	for _, tok := range toks {
		if tok.Kind != TokEOF {
			texts = append(texts, tok.Text)
		}
	}
	require.Equal(t, []string{"u8", "n", ";", "u8", "m", ";"}, texts)
}

func TestLexerDocCommentAttaches(t *testing.T) {
	l := NewLexer("/** explains n */\nu8 n;")
	tok, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, "u8", tok.Text)
	require.Equal(t, "explains n", l.TakeDoc())
	require.Empty(t, l.TakeDoc())
}

func TestLexerUnterminatedBlockComment(t *testing.T) {
	l := NewLexer("/* oops")
	_, err := l.Next()
	require.Error(t, err)
}
