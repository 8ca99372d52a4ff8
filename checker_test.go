package trunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func checkSrc(t *testing.T, src string) (*File, []string, error) {
	t.Helper()
	f := parseSrc(t, src)
	order, err := NewChecker(f).Check()
	return f, order, err
}

func TestCheckerScenarioAValid(t *testing.T) {
	_, order, err := checkSrc(t, "struct R { u16 n IN [1..3, 9]; eos; }")
	require.NoError(t, err)
	require.Equal(t, []string{"R"}, order)
}

func TestCheckerRejectsDuplicateName(t *testing.T) {
	_, _, err := checkSrc(t, "const N = 1; const N = 2;")
	require.Error(t, err)
}

func TestCheckerScenarioE_CycleRejected(t *testing.T) {
	_, _, err := checkSrc(t, `
		struct A { struct B b; }
		struct B { struct A a; }
	`)
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	require.Condition(t, func() bool { return se.Struct == "A" || se.Struct == "B" })
}

func TestCheckerScenarioF_DuplicateTagRejected(t *testing.T) {
	_, _, err := checkSrc(t, `
		struct U { u8 t; union v[t] { 1..5: u8 a; 3: u8 b; default: fail; }; }
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Duplicate tag values")
}

func TestCheckerTopoSortDeterministicByName(t *testing.T) {
	_, order, err := checkSrc(t, `
		struct Z { u8 n; }
		struct A { struct Z z; }
		struct M { struct Z z; }
	`)
	require.NoError(t, err)
	// Z has no dependencies so it sorts first; A and M are tied and must
	// come out alphabetically (spec.md §4.1 pass 3 "break ties by name").
	require.Equal(t, []string{"Z", "A", "M"}, order)
}

func TestCheckerFixedArrayByConstantRewrite(t *testing.T) {
	f, _, err := checkSrc(t, "const N = 4; struct F { u8 body[N]; }")
	require.NoError(t, err)
	sd := f.StructByName("F")
	fa, ok := sd.Members[0].(*FixedArrayMember)
	require.True(t, ok)
	require.EqualValues(t, 4, fa.Width)
	require.Equal(t, "N", fa.WidthConstName)
}

func TestCheckerVarArrayByFieldStaysVarArray(t *testing.T) {
	f, _, err := checkSrc(t, "struct B { u8 n; u8 body[n]; eos; }")
	require.NoError(t, err)
	sd := f.StructByName("B")
	va, ok := sd.Members[1].(*VarArrayMember)
	require.True(t, ok)
	require.Equal(t, "n", va.FieldName)
	require.True(t, sd.UsedAsLength["n"])
}

func TestCheckerRejectsFieldUsedAsTagAndLength(t *testing.T) {
	_, _, err := checkSrc(t, `
		struct X {
			u8 t;
			u8 body[t];
			union v[t] { 1: u8 a; default: fail; };
		}
	`)
	require.Error(t, err)
}

func TestCheckerRejectsNestedLenConstrained(t *testing.T) {
	_, _, err := checkSrc(t, `
		struct X { u8 n; u8 body[..-0]; }
	`)
	// body[..-0] alone is fine; nest one LenConstrained inside another to
	// trigger the depth check.
	require.NoError(t, err)

	_, _, err = checkSrc(t, `
		struct Y {
			u8 tag;
			u8 len;
			union v[tag] with length len {
				1: u8 inner[..-0];
				default: fail;
			};
		}
	`)
	require.Error(t, err)
}

func TestCheckerRejectsIgnoreOutsideExtent(t *testing.T) {
	_, _, err := checkSrc(t, "struct X { ignore; }")
	require.Error(t, err)
}

func TestCheckerContextConsistency(t *testing.T) {
	_, _, err := checkSrc(t, `
		context Ctx { u8 n; }
		struct Inner with context Ctx { u8 body[Ctx.n]; }
		struct Outer { struct Inner inner; }
	`)
	require.Error(t, err)
}
