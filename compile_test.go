package trunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileScenarioA(t *testing.T) {
	res, err := Compile("scenario_a", "struct R { u16 n IN [1..3, 9]; eos; }", CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Header, "typedef struct R_t {")
	require.Contains(t, res.Header, "uint16_t n;")
	require.Contains(t, res.Module, "R_parse_into")
	require.Contains(t, res.Module, "R_encode")
	require.Contains(t, res.Module, "val >= 1 && val <= 3")
}

func TestCompileScenarioC_UnionWithLength(t *testing.T) {
	src := `struct U {
		u8 tag;
		u8 len;
		union u[tag] with length len {
			1: u32 x;
			2: u8 y[..-0];
			default: ignore;
		};
		eos;
	}`
	res, err := Compile("scenario_c", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Module, "switch (obj->tag)")
	require.Contains(t, res.Module, "case 1:")
	require.Contains(t, res.Module, "case 2:")
	require.Contains(t, res.Module, "default:")
}

func TestCompileRejectsSchemaError(t *testing.T) {
	_, err := Compile("bad", `
		struct A { struct B b; }
		struct B { struct A a; }
	`, CompileOptions{})
	require.Error(t, err)
}

func TestCompileOpaqueOptionForwardDeclares(t *testing.T) {
	res, err := Compile("opaque_demo", `
		trunnel options opaque;
		struct Hidden { u8 n; }
	`, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Header, "typedef struct Hidden_t Hidden_t;")
	require.NotContains(t, res.Header, "uint8_t n;")
}

func TestCompileTopologicalOrderInModule(t *testing.T) {
	src := `
		struct Z { u8 n; }
		struct A { struct Z z; }
	`
	res, err := Compile("order_demo", src, CompileOptions{})
	require.NoError(t, err)
	zIdx := indexOf(t, res.Module, "Z_new(void)")
	aIdx := indexOf(t, res.Module, "A_new(void)")
	require.Less(t, zIdx, aIdx)
}

func TestCompileForwardsContextIntoNestedStructCalls(t *testing.T) {
	src := `
		context Ctx { u8 n; }
		struct Inner with context Ctx { u8 body[Ctx.n]; }
		struct Outer with context Ctx { struct Inner inner; }
	`
	res, err := Compile("ctx_forward", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Header, "Inner_t *Outer_get_inner(Outer_t *obj);")
	require.Contains(t, res.Module, "Inner_parse(&obj->inner, ptr, remaining, Ctx)")
	require.Contains(t, res.Module, "Inner_encode(ptr, avail - written, obj->inner, Ctx)")
}

func TestCompileEncodeEnforcesLeftoverAvail(t *testing.T) {
	src := "struct L { u8 xs[..-2]; u16 trailer; }"
	res, err := Compile("leftover_encode", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Module, "L_encode(uint8_t *output, size_t avail, const L_t *obj)")
	require.Contains(t, res.Module, "int enforce_avail = 0;")
	require.Contains(t, res.Module, "const size_t avail_orig = avail;")
	require.Contains(t, res.Module, "avail = written + 2;")
	require.Contains(t, res.Module, "enforce_avail = 1;")
	require.Contains(t, res.Module, "if (enforce_avail && avail != written) goto check_failed;")
	require.Contains(t, res.Module, "if (avail_orig - written < 2) goto truncated;")
}

func TestCompileScenarioC_EncodeBackpatchesLengthField(t *testing.T) {
	src := `struct U {
		u8 tag;
		u8 len;
		union u[tag] with length len {
			1: u32 x;
			2: u8 y[..-0];
			default: ignore;
		};
		eos;
	}`
	res, err := Compile("scenario_c_encode", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Module, "uint8_t *backptr_len = NULL;")
	require.Contains(t, res.Module, "backptr_len = ptr;")
	require.Contains(t, res.Module, "size_t written_before_union = written;")
	require.Contains(t, res.Module, "size_t len_ = written - written_before_union;")
	require.Contains(t, res.Module, "trunnel_set_uint8(backptr_len, (uint8_t)len_);")
	require.NotContains(t, res.Module, "uint8_t *backptr_ = ptr;")
}

func TestCompileScenarioC_ParseRedirectsLenConstrainedFailuresToFail(t *testing.T) {
	src := `struct U {
		u8 tag;
		u8 len;
		union u[tag] with length len {
			1: u32 x;
			2: u8 y[..-0];
			default: ignore;
		};
		eos;
	}`
	res, err := Compile("scenario_c_parse", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Module, "CHECK_REMAINING(extent_len_, truncated);")
	require.Contains(t, res.Module, "CHECK_REMAINING(4, fail);")
	require.Contains(t, res.Module, "if (remaining != 0) goto fail;")
	require.NotContains(t, res.Module, "CHECK_REMAINING(4, truncated);")
}

func TestCompileParseChecksAllocationFailures(t *testing.T) {
	src := `struct V { u8 n; char xs[n]; }`
	res, err := Compile("alloc_check", src, CompileOptions{})
	require.NoError(t, err)
	require.Contains(t, res.Module, "if (trunnel_dynarray_expand(&obj->xs.internal_, obj->n, 1, (void**)&obj->xs.elts_)) goto trunnel_alloc_failed;")
	require.Contains(t, res.Module, " trunnel_alloc_failed:")
	require.Contains(t, res.Module, "return -1;")
}

func TestCompileParseOmitsUnusedLabels(t *testing.T) {
	src := `struct W { u8 n; }`
	res, err := Compile("no_labels", src, CompileOptions{})
	require.NoError(t, err)
	// W_encode always carries check_failed:/fail:, so look only at the
	// parse_into definition and what follows it.
	parse := res.Module[indexOf(t, res.Module, "W_parse_into(W_t *obj"):]
	require.Contains(t, parse, " truncated:")
	require.NotContains(t, parse, " relay_fail:")
	require.NotContains(t, parse, " trunnel_alloc_failed:")
	require.NotContains(t, parse, " fail:")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := -1
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected %q to contain %q", haystack, needle)
	return idx
}
