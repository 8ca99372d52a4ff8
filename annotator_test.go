package trunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func annotateSrc(t *testing.T, src string) *File {
	t.Helper()
	f := parseSrc(t, src)
	order, err := NewChecker(f).Check()
	require.NoError(t, err)
	NewAnnotator(f).Annotate(order)
	return f
}

func TestAnnotatorCNamePlainMember(t *testing.T) {
	f := annotateSrc(t, "struct R { u16 n IN [1..3, 9]; eos; }")
	n := f.StructByName("R").Members[0]
	require.Equal(t, "n", n.cname())
}

func TestAnnotatorCNameUnionPrefix(t *testing.T) {
	f := annotateSrc(t, `
		struct U {
			u8 tag;
			union v[tag] { 1: u8 x; default: fail; };
		}
	`)
	sd := f.StructByName("U")
	u := sd.Members[1].(*UnionMember)
	require.Equal(t, "v", u.cname())
	x := u.Cases[0].Members[0]
	require.Equal(t, "v_x", x.cname())
}

func TestAnnotatorResolvesStructTarget(t *testing.T) {
	f := annotateSrc(t, `
		struct Inner { u8 x; }
		struct Outer { struct Inner inner; }
	`)
	sm := f.StructByName("Outer").Members[0].(*StructMember)
	require.NotNil(t, sm.Target)
	require.Equal(t, "Inner", sm.Target.Name)
}

func TestAnnotatorResolvesVarArrayWidthField(t *testing.T) {
	f := annotateSrc(t, "struct B { u8 n; u8 body[n]; eos; }")
	va := f.StructByName("B").Members[1].(*VarArrayMember)
	require.NotNil(t, va.WidthFieldMember)
	require.Equal(t, "n", va.WidthFieldMember.Name())
}

func TestAnnotatorLeftoverPropagatesToLaterSiblings(t *testing.T) {
	f := annotateSrc(t, "struct L { u8 xs[..-2]; u16 trailer; }")
	sd := f.StructByName("L")
	require.True(t, afterLeftoverField(sd.Members, sd.Members[1]))
}

func TestAnnotatorLeftoverDoesNotLeakAcrossUnionBranches(t *testing.T) {
	f := annotateSrc(t, `
		struct U {
			u8 tag;
			union v[tag] {
				1: u8 xs[..-0]; u8 after_leftover;
				2: u8 plain;
				default: fail;
			};
		}
	`)
	sd := f.StructByName("U")
	u := sd.Members[1].(*UnionMember)
	branch1 := u.Cases[0].Members
	branch2 := u.Cases[1].Members
	require.True(t, afterLeftoverField(branch1, branch1[1]))
	require.False(t, afterLeftoverField(branch2, branch2[0]))
}
