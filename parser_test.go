package trunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parseSrc(t *testing.T, src string) *File {
	t.Helper()
	p, err := NewParser(src)
	require.NoError(t, err)
	f, err := p.ParseFile()
	require.NoError(t, err)
	return f
}

func TestParseConstDecl(t *testing.T) {
	f := parseSrc(t, "const MAX = 16;")
	require.Len(t, f.Consts, 1)
	require.Equal(t, "MAX", f.Consts[0].Name)
	require.EqualValues(t, 16, f.Consts[0].Value)
}

func TestParseScenarioA(t *testing.T) {
	f := parseSrc(t, "struct R { u16 n IN [1..3, 9]; eos; }")
	require.Len(t, f.Structs, 1)
	sd := f.Structs[0]
	require.Equal(t, "R", sd.Name)
	require.Len(t, sd.Members, 2)

	n, ok := sd.Members[0].(*IntegerMember)
	require.True(t, ok)
	require.Equal(t, 16, n.Width)
	require.Equal(t, "n", n.MemberName)
	require.NotNil(t, n.Constraint)
	require.Equal(t, []IntRange{{1, 3}, {9, 9}}, n.Constraint.Ranges)

	_, ok = sd.Members[1].(*EosMember)
	require.True(t, ok)
}

func TestParseScenarioB(t *testing.T) {
	f := parseSrc(t, "struct B { u8 n; u8 body[n]; eos; }")
	sd := f.Structs[0]
	require.Len(t, sd.Members, 3)
	va, ok := sd.Members[1].(*VarArrayMember)
	require.True(t, ok)
	require.True(t, va.HasWidthField)
	require.Equal(t, "n", va.FieldName)
	require.False(t, va.IsContextRef)
}

func TestParseScenarioC(t *testing.T) {
	f := parseSrc(t, `struct U {
		u8 tag;
		u8 len;
		union u[tag] with length len {
			1: u32 x;
			2: u8 y[..-0];
			default: ignore;
		};
		eos;
	}`)
	sd := f.Structs[0]
	require.Len(t, sd.Members, 4)
	lc, ok := sd.Members[2].(*LenConstrainedMember)
	require.True(t, ok)
	require.Equal(t, "len", lc.LengthField)
	require.Len(t, lc.Members, 1)
	u, ok := lc.Members[0].(*UnionMember)
	require.True(t, ok)
	require.Equal(t, "tag", u.TagField)
	require.Len(t, u.Cases, 3)
	require.True(t, u.Cases[2].IsDefault)
}

func TestParseScenarioD(t *testing.T) {
	f := parseSrc(t, "struct L { u8 xs[..-2]; u16 trailer; }")
	sd := f.Structs[0]
	require.Len(t, sd.Members, 2)
	lc, ok := sd.Members[0].(*LenConstrainedMember)
	require.True(t, ok)
	require.NotNil(t, lc.Leftover)
	require.EqualValues(t, 2, *lc.Leftover)
	inner, ok := lc.Members[0].(*VarArrayMember)
	require.True(t, ok)
	require.True(t, inner.IsRemainder())
}

func TestParseFixedArrayWithConstantWidth(t *testing.T) {
	f := parseSrc(t, "const N = 4; struct F { u8 body[N]; }")
	sd := f.Structs[0]
	// The Parser cannot disambiguate const-name from field-name arrays; it
	// always emits a VarArrayMember and defers to the Checker.
	va, ok := sd.Members[0].(*VarArrayMember)
	require.True(t, ok)
	require.Equal(t, "N", va.WidthField)
}

func TestParseInlineStructLiftedToFileScope(t *testing.T) {
	f := parseSrc(t, "struct Outer { struct { u8 x; } inner; }")
	require.Len(t, f.InlineStructs, 1)
	require.Len(t, f.Structs, 2)
	sm, ok := f.Structs[0].Members[0].(*StructMember)
	require.True(t, ok)
	require.Equal(t, f.InlineStructs[0].Name, sm.TypeName)
}

func TestParseInlineStructInsideUnionCaseLiftedToFileScope(t *testing.T) {
	f := parseSrc(t, `
		struct Outer {
			u8 tag;
			union v[tag] {
				1: struct { u8 x; } inner;
				default: fail;
			};
		}
	`)
	require.Len(t, f.InlineStructs, 1, "inline struct declared inside a union case must still be lifted to file scope")
	sd := f.Structs[0]
	u := sd.Members[1].(*UnionMember)
	sm, ok := u.Cases[0].Members[0].(*StructMember)
	require.True(t, ok)
	require.Equal(t, f.InlineStructs[0].Name, sm.TypeName)
}

func TestParseContextQualifiedWidthField(t *testing.T) {
	f := parseSrc(t, `
		context Ctx { u8 n; }
		struct WithCtx with context Ctx { u8 body[Ctx.n]; }
	`)
	sd := f.Structs[1]
	va, ok := sd.Members[0].(*VarArrayMember)
	require.True(t, ok)
	require.True(t, va.IsContextRef)
	require.Equal(t, "Ctx", va.ContextName)
	require.Equal(t, "n", va.FieldName)
}
