package trunnel

import "fmt"

// ModuleEmitter produces the `.c` half of a compiled schema: the six
// generated routines per struct (spec.md §4.5) plus accessor bodies
// (§4.6). Each routine body is generated by a small MemberVisitor
// implementation below, mirroring how the teacher's AST visitors
// (grammar_ast_visitor.go) drive per-node codegen rather than a single
// monolithic switch.
type ModuleEmitter struct {
	file *File
	opts CompileOptions
}

func NewModuleEmitter(file *File, opts CompileOptions) *ModuleEmitter {
	return &ModuleEmitter{file: file, opts: opts}
}

// Emit renders the full module text. order is the Checker's topological
// struct order; the module defines structs in that order so that, per
// spec.md §5 and testable property 4, every callee precedes its callers.
func (e *ModuleEmitter) Emit(order []string, headerName string) string {
	w := newOutputWriter("  ")
	w.writeilf(`#include "%s.h"`, headerName)
	w.writeil(`#include "trunnel-impl.h"`)
	w.blank()

	for _, name := range order {
		sd := e.file.StructByName(name)
		if sd == nil {
			continue
		}
		e.emitStruct(w, sd)
	}
	return w.String()
}

func (e *ModuleEmitter) emitStruct(w *outputWriter, sd *StructDecl) {
	t := cStructType(sd.Name)
	n := sd.Name

	w.writeilf("%s *", t)
	w.writeilf("%s_new(void)", n)
	w.writeil("{")
	w.indent()
	w.writeilf("%s *val = trunnel_calloc(1, sizeof(%s));", t, t)
	w.writeil("return val;")
	w.unindent()
	w.writeil("}")
	w.blank()

	w.writeilf("void")
	w.writeilf("%s_free(%s *obj)", n, t)
	w.writeil("{")
	w.indent()
	w.writeil("if (!obj) return;")
	freeVisitor := &freeEmitter{w: w}
	_ = WalkStruct(freeVisitor, sd)
	w.writeil("trunnel_memwipe(obj, sizeof(*obj));")
	w.writeil("trunnel_free_(obj);")
	w.unindent()
	w.writeil("}")
	w.blank()

	w.writeilf("void")
	w.writeilf("%s_clear_errors(%s *obj)", n, t)
	w.writeil("{")
	w.indent()
	w.writeil("obj->trunnel_error_code_ = 0;")
	w.unindent()
	w.writeil("}")
	w.blank()

	e.emitCheck(w, sd)
	e.emitEncodedLen(w, sd)
	e.emitEncode(w, sd)
	e.emitParse(w, sd)
	e.emitAccessorBodies(w, sd)
}

// --- check -----------------------------------------------------------

func (e *ModuleEmitter) emitCheck(w *outputWriter, sd *StructDecl) {
	n, t := sd.Name, cStructType(sd.Name)
	w.writeilf("const char *")
	w.writeilf("%s_check(const %s *obj)", n, t)
	w.writeil("{")
	w.indent()
	w.writeil(`if (!obj) return "Object was NULL";`)
	w.writeil("if (obj->trunnel_error_code_) return \"A set function failed on this object\";")
	ce := &checkEmitter{w: w}
	_ = WalkStruct(ce, sd)
	w.writeil("return NULL;")
	w.unindent()
	w.writeil("}")
	w.blank()
}

type checkEmitter struct{ w *outputWriter }

func (c *checkEmitter) VisitInteger(m *IntegerMember) error {
	if m.Constraint != nil {
		c.w.writeilf("if (! (%s)) return \"Integer out of bounds\";", constraintExpr("obj->"+m.cname(), m.Constraint))
	}
	return nil
}

func (c *checkEmitter) VisitStruct(m *StructMember) error {
	c.w.writeilf("if (obj->%s) {", m.cname())
	c.w.indent()
	c.w.writeilf("const char *msg = %s_check(obj->%s);", m.TypeName, m.cname())
	c.w.writeil("if (msg) return msg;")
	c.w.unindent()
	c.w.writeil("}")
	return nil
}

func (c *checkEmitter) VisitString(m *StringMember) error {
	c.w.writeilf("if (!obj->%s) return \"A string was NULL\";", m.cname())
	return nil
}

func (c *checkEmitter) VisitFixedArray(m *FixedArrayMember) error {
	switch m.Elem {
	case ElemChar:
		c.w.writeilf("if (obj->%s[%d] != 0) return \"String was not terminated\";", m.cname(), m.Width)
	case ElemStruct:
		c.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) {", m.Width)
		c.w.indent()
		c.w.writeilf("const char *msg = %s_check(obj->%s[idx_]);", m.ElemTypeName, m.cname())
		c.w.writeil("if (msg) return msg;")
		c.w.unindent()
		c.w.writeil("}")
	}
	return nil
}

func (c *checkEmitter) VisitVarArray(m *VarArrayMember) error {
	if m.HasWidthField && !m.IsContextRef {
		c.w.writeilf("if (TRUNNEL_DYNARRAY_LEN(&obj->%s) != obj->%s) return \"Length mismatch\";", m.cname(), siblingName(m.WidthFieldMember, m.FieldName))
	}
	if m.Elem == ElemStruct {
		c.w.writeilf("for (size_t idx_ = 0; idx_ < TRUNNEL_DYNARRAY_LEN(&obj->%s); ++idx_) {", m.cname())
		c.w.indent()
		c.w.writeilf("const char *msg = %s_check(TRUNNEL_DYNARRAY_GET(&obj->%s, idx_));", m.ElemTypeName, m.cname())
		c.w.writeil("if (msg) return msg;")
		c.w.unindent()
		c.w.writeil("}")
	}
	return nil
}

func (c *checkEmitter) VisitUnion(m *UnionMember) error {
	c.w.writeilf("switch (obj->%s) {", siblingName(m.TagMember, m.TagField))
	for _, uc := range m.Cases {
		emitCaseLabels(c.w, uc)
		c.w.indent()
		if uc.IsDefault {
			c.w.writeil(`return "Bad tag for union";`)
		} else {
			for _, cm := range uc.Members {
				_ = cm.Accept(c)
			}
			c.w.writeil("break;")
		}
		c.w.unindent()
	}
	c.w.writeil("}")
	return nil
}

func (c *checkEmitter) VisitLenConstrained(m *LenConstrainedMember) error {
	return WalkMembers(c, m.Members)
}
func (c *checkEmitter) VisitPosition(m *PositionMember) error { return nil }
func (c *checkEmitter) VisitEos(m *EosMember) error           { return nil }
func (c *checkEmitter) VisitFail(m *FailMember) error         { return nil }
func (c *checkEmitter) VisitIgnore(m *IgnoreMember) error     { return nil }

func emitCaseLabels(w *outputWriter, uc *UnionCase) {
	if uc.IsDefault {
		w.writeil("default:")
		return
	}
	for _, r := range uc.Ranges {
		if r.Lo == r.Hi {
			w.writeilf("case %d:", r.Lo)
		} else {
			for v := r.Lo; v <= r.Hi; v++ {
				w.writeilf("case %d:", v)
			}
		}
	}
}

// --- encoded_len -------------------------------------------------------

func (e *ModuleEmitter) emitEncodedLen(w *outputWriter, sd *StructDecl) {
	n, t := sd.Name, cStructType(sd.Name)
	ctxParams := contextParams(sd)
	w.writeilf("ssize_t")
	w.writeilf("%s_encoded_len(const %s *obj%s)", n, t, ctxParams)
	w.writeil("{")
	w.indent()
	w.writeil("ssize_t result = 0;")
	w.blank()
	w.writeilf("if (%s_check(obj)) return -1;", n)
	w.blank()
	le := &lenEmitter{w: w}
	_ = WalkStruct(le, sd)
	w.writeil("return result;")
	w.unindent()
	w.writeil("}")
	w.blank()
}

type lenEmitter struct{ w *outputWriter }

func (l *lenEmitter) VisitInteger(m *IntegerMember) error {
	l.w.writeilf("result += %d;", m.Width/8)
	return nil
}
func (l *lenEmitter) VisitStruct(m *StructMember) error {
	l.w.writeilf("result += %s_encoded_len(obj->%s%s);", m.TypeName, m.cname(), childContextArgs(m.Target))
	return nil
}
func (l *lenEmitter) VisitString(m *StringMember) error {
	l.w.writeilf("result += strlen(obj->%s) + 1;", m.cname())
	return nil
}
func (l *lenEmitter) VisitFixedArray(m *FixedArrayMember) error {
	switch m.Elem {
	case ElemChar:
		l.w.writeilf("result += %d;", m.Width)
	case ElemInt:
		l.w.writeilf("result += %d * %d;", m.Width, m.ElemWidth/8)
	case ElemStruct:
		l.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) result += %s_encoded_len(obj->%s[idx_]%s);", m.Width, m.ElemTypeName, m.cname(), childContextArgs(m.Target))
	}
	return nil
}
func (l *lenEmitter) VisitVarArray(m *VarArrayMember) error {
	switch m.Elem {
	case ElemChar:
		l.w.writeilf("result += TRUNNEL_DYNARRAY_LEN(&obj->%s);", m.cname())
	case ElemInt:
		l.w.writeilf("result += TRUNNEL_DYNARRAY_LEN(&obj->%s) * %d;", m.cname(), m.ElemWidth/8)
	case ElemStruct:
		l.w.writeilf("for (size_t idx_ = 0; idx_ < TRUNNEL_DYNARRAY_LEN(&obj->%s); ++idx_) result += %s_encoded_len(TRUNNEL_DYNARRAY_GET(&obj->%s, idx_)%s);", m.cname(), m.ElemTypeName, m.cname(), childContextArgs(m.Target))
	}
	return nil
}
func (l *lenEmitter) VisitUnion(m *UnionMember) error {
	l.w.writeilf("switch (obj->%s) {", siblingName(m.TagMember, m.TagField))
	for _, uc := range m.Cases {
		emitCaseLabels(l.w, uc)
		l.w.indent()
		_ = WalkMembers(l, uc.Members)
		l.w.writeil("break;")
		l.w.unindent()
	}
	l.w.writeil("}")
	return nil
}
func (l *lenEmitter) VisitLenConstrained(m *LenConstrainedMember) error {
	// The length field is an ordinary integer member, already counted by
	// VisitInteger.
	return WalkMembers(l, m.Members)
}
func (l *lenEmitter) VisitPosition(m *PositionMember) error { return nil }
func (l *lenEmitter) VisitEos(m *EosMember) error           { return nil }
func (l *lenEmitter) VisitFail(m *FailMember) error         { return nil }
func (l *lenEmitter) VisitIgnore(m *IgnoreMember) error     { return nil }

func widthOf(m Member) int {
	if im, ok := m.(*IntegerMember); ok {
		return im.Width
	}
	return 8
}

// --- encode --------------------------------------------------------

// structHasLeftover reports whether sd contains a leftover-bytes
// LenConstrained extent anywhere in its member tree, including inside union
// branches. The encoder needs this up front to decide whether to declare
// avail_orig/enforce_avail and whether avail is mutated during encoding.
func structHasLeftover(sd *StructDecl) bool {
	var walk func([]Member) bool
	walk = func(ms []Member) bool {
		for _, m := range ms {
			switch mm := m.(type) {
			case *LenConstrainedMember:
				if mm.Leftover != nil {
					return true
				}
				if walk(mm.Members) {
					return true
				}
			case *UnionMember:
				for _, uc := range mm.Cases {
					if walk(uc.Members) {
						return true
					}
				}
			}
		}
		return false
	}
	return walk(sd.Members)
}

// lengthFieldMembers returns the direct IntegerMember fields of sd that are
// marked UsedAsLength: a union's `with length` field, and also a var-array
// width field, since the Checker records both under UsedAsLength. Only
// top-level members are scanned. The encoder declares one backptr_<name>
// per entry so VisitInteger can stash the write position and
// VisitLenConstrained can later patch it; for a var-array width field the
// pointer is stashed but never patched.
func lengthFieldMembers(sd *StructDecl) []*IntegerMember {
	var out []*IntegerMember
	for _, m := range sd.Members {
		if im, ok := m.(*IntegerMember); ok && sd.UsedAsLength[im.MemberName] {
			out = append(out, im)
		}
	}
	return out
}

func (e *ModuleEmitter) emitEncode(w *outputWriter, sd *StructDecl) {
	n, t := sd.Name, cStructType(sd.Name)
	ctxParams := contextParams(sd)
	hasLeftover := structHasLeftover(sd)
	availQual := "const "
	if hasLeftover {
		availQual = ""
	}
	w.writeilf("ssize_t")
	w.writeilf("%s_encode(uint8_t *output, %ssize_t avail, const %s *obj%s)", n, availQual, t, ctxParams)
	w.writeil("{")
	w.indent()
	w.writeil("size_t written = 0;")
	w.writeil("uint8_t *ptr = output;")
	if hasLeftover {
		w.writeil("int enforce_avail = 0;")
		w.writeil("const size_t avail_orig = avail;")
	}
	lengthFields := lengthFieldMembers(sd)
	for _, lf := range lengthFields {
		w.writeilf("uint8_t *backptr_%s = NULL;", lf.cname())
	}
	w.writeilf("if (NULL != %s_check(obj)) goto check_failed;", n)
	labels := &labelSet{needed: map[string]bool{}}
	ee := &encodeEmitter{w: w, after: false, sd: sd, labels: labels}
	_ = WalkStruct(ee, sd)
	if hasLeftover {
		w.writeil("if (enforce_avail && avail != written) goto check_failed;")
	}
	w.writeil("return written;")
	w.blank()
	if labels.needed["truncated"] {
		w.writeil(" truncated:")
		w.writeil("return -2;")
	}
	w.writeil(" check_failed:")
	w.writeil(" fail:")
	w.writeil("return -1;")
	w.unindent()
	w.writeil("}")
	w.blank()
}

// labelSet tracks which epilogue labels a generated function body actually
// gotos, so emitEncode/emitParse can omit the unused ones and keep the
// generated C warning-clean under -Wunused-label.
type labelSet struct{ needed map[string]bool }

func (l *labelSet) need(name string) { l.needed[name] = true }

type encodeEmitter struct {
	w      *outputWriter
	after  bool // set once a leftover-bytes extent has been crossed
	sd     *StructDecl
	labels *labelSet
}

// checkRemaining emits the CHECK_REMAINING equivalent for an encode-side
// write of sz bytes. Once a leftover-bytes boundary has been crossed, a
// shortfall against the (now-shrunk) avail is only a truncation if the
// caller's original buffer was itself too small; otherwise the object's
// own leftover-length bookkeeping is inconsistent and it is an error.
func (enc *encodeEmitter) checkRemaining(sz string) {
	if !enc.after {
		enc.labels.need("truncated")
		enc.w.writeilf("CHECK_REMAINING(%s, truncated);", sz)
		return
	}
	enc.w.writeilf("if (avail - written < %s) {", sz)
	enc.w.indent()
	enc.w.writeilf("if (avail_orig - written < %s) goto truncated;", sz)
	enc.w.writeil("else goto check_failed;")
	enc.w.unindent()
	enc.w.writeil("}")
}

func (enc *encodeEmitter) VisitInteger(m *IntegerMember) error {
	sz := m.Width / 8
	enc.checkRemaining(fmt.Sprintf("%d", sz))
	if enc.sd != nil && enc.sd.UsedAsLength[m.MemberName] {
		enc.w.writeilf("backptr_%s = ptr;", m.cname())
	}
	enc.w.writeilf("trunnel_set_uint%d(ptr, obj->%s);", m.Width, m.cname())
	enc.w.writeilf("written += %d; ptr += %d;", sz, sz)
	return nil
}
func (enc *encodeEmitter) VisitStruct(m *StructMember) error {
	enc.w.writeilf("{")
	enc.w.indent()
	enc.w.writeilf("ssize_t result = %s_encode(ptr, avail - written, obj->%s%s);", m.TypeName, m.cname(), childContextArgs(m.Target))
	enc.w.writeil("if (result < 0) return result;")
	enc.w.writeil("written += result; ptr += result;")
	enc.w.unindent()
	enc.w.writeil("}")
	return nil
}
func (enc *encodeEmitter) VisitString(m *StringMember) error {
	enc.w.writeilf("{")
	enc.w.indent()
	enc.w.writeilf("size_t len_ = strlen(obj->%s);", m.cname())
	enc.checkRemaining("len_ + 1")
	enc.w.writeilf("memcpy(ptr, obj->%s, len_ + 1);", m.cname())
	enc.w.writeil("written += len_ + 1; ptr += len_ + 1;")
	enc.w.unindent()
	enc.w.writeil("}")
	return nil
}
func (enc *encodeEmitter) VisitFixedArray(m *FixedArrayMember) error {
	switch m.Elem {
	case ElemChar:
		enc.w.writeilf("{")
		enc.w.indent()
		enc.w.writeilf("size_t len_ = strlen(obj->%s);", m.cname())
		enc.checkRemaining(fmt.Sprintf("%d", m.Width))
		enc.w.writeilf("memcpy(ptr, obj->%s, len_);", m.cname())
		enc.w.writeilf("memset(ptr + len_, 0, %d - len_);", m.Width)
		enc.w.writeilf("written += %d; ptr += %d;", m.Width, m.Width)
		enc.w.unindent()
		enc.w.writeil("}")
	case ElemInt:
		enc.checkRemaining(fmt.Sprintf("%d", m.Width*int64(m.ElemWidth/8)))
		enc.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) {", m.Width)
		enc.w.indent()
		enc.w.writeilf("trunnel_set_uint%d(ptr, obj->%s[idx_]);", m.ElemWidth, m.cname())
		enc.w.writeilf("written += %d; ptr += %d;", m.ElemWidth/8, m.ElemWidth/8)
		enc.w.unindent()
		enc.w.writeil("}")
	case ElemStruct:
		enc.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) {", m.Width)
		enc.w.indent()
		enc.w.writeilf("ssize_t result = %s_encode(ptr, avail - written, obj->%s[idx_]%s);", m.ElemTypeName, m.cname(), childContextArgs(m.Target))
		enc.w.writeil("if (result < 0) return result;")
		enc.w.writeil("written += result; ptr += result;")
		enc.w.unindent()
		enc.w.writeil("}")
	}
	return nil
}
func (enc *encodeEmitter) VisitVarArray(m *VarArrayMember) error {
	switch m.Elem {
	case ElemChar:
		enc.checkRemaining(fmt.Sprintf("TRUNNEL_DYNARRAY_LEN(&obj->%s)", m.cname()))
		enc.w.writeilf("memcpy(ptr, obj->%s.elts_, TRUNNEL_DYNARRAY_LEN(&obj->%s));", m.cname(), m.cname())
		enc.w.writeilf("written += TRUNNEL_DYNARRAY_LEN(&obj->%s); ptr += TRUNNEL_DYNARRAY_LEN(&obj->%s);", m.cname(), m.cname())
	case ElemInt:
		enc.w.writeilf("for (size_t idx_ = 0; idx_ < TRUNNEL_DYNARRAY_LEN(&obj->%s); ++idx_) {", m.cname())
		enc.w.indent()
		enc.checkRemaining(fmt.Sprintf("%d", m.ElemWidth/8))
		enc.w.writeilf("trunnel_set_uint%d(ptr, TRUNNEL_DYNARRAY_GET(&obj->%s, idx_));", m.ElemWidth, m.cname())
		enc.w.writeilf("written += %d; ptr += %d;", m.ElemWidth/8, m.ElemWidth/8)
		enc.w.unindent()
		enc.w.writeil("}")
	case ElemStruct:
		enc.w.writeilf("for (size_t idx_ = 0; idx_ < TRUNNEL_DYNARRAY_LEN(&obj->%s); ++idx_) {", m.cname())
		enc.w.indent()
		enc.w.writeilf("ssize_t result = %s_encode(ptr, avail - written, TRUNNEL_DYNARRAY_GET(&obj->%s, idx_)%s);", m.ElemTypeName, m.cname(), childContextArgs(m.Target))
		enc.w.writeil("if (result < 0) return result;")
		enc.w.writeil("written += result; ptr += result;")
		enc.w.unindent()
		enc.w.writeil("}")
	}
	return nil
}
func (enc *encodeEmitter) VisitUnion(m *UnionMember) error {
	enc.w.writeilf("switch (obj->%s) {", siblingName(m.TagMember, m.TagField))
	for _, uc := range m.Cases {
		emitCaseLabels(enc.w, uc)
		enc.w.indent()
		branch := &encodeEmitter{w: enc.w, after: enc.after, sd: enc.sd, labels: enc.labels}
		_ = WalkMembers(branch, uc.Members)
		enc.w.writeil("break;")
		enc.w.unindent()
	}
	enc.w.writeil("}")
	return nil
}
func (enc *encodeEmitter) VisitLenConstrained(m *LenConstrainedMember) error {
	enc.w.writeil("{")
	enc.w.indent()
	if m.Leftover == nil {
		enc.w.writeil("size_t written_before_union = written;")
	}
	_ = WalkMembers(enc, m.Members)
	switch {
	case m.Leftover == nil && m.LengthFieldMember != nil:
		width := widthOf(m.LengthFieldMember)
		enc.w.writeilf("size_t len_ = written - written_before_union;")
		enc.w.writeilf("if (len_ > TRUNNEL_MAX_UINT%d) goto check_failed;", width)
		enc.w.writeilf("trunnel_set_uint%d(backptr_%s, (uint%d_t)len_);", width, m.LengthFieldMember.cname(), width)
	case m.Leftover == nil && m.LengthField != "":
		ctxName, fieldName, qualified := fieldRef(m.LengthField)
		if qualified {
			enc.w.writeilf("if (written - written_before_union != %s->%s) goto check_failed;", ctxName, fieldName)
		}
	}
	if m.Leftover != nil {
		// Exactly *m.Leftover bytes may follow the extent: shrink avail to
		// written + *m.Leftover and defer the final check to emitEncode's
		// postamble, which compares the (now-shrunk) avail against written.
		enc.checkRemaining(fmt.Sprintf("%d", *m.Leftover))
		enc.w.writeilf("avail = written + %d;", *m.Leftover)
		enc.w.writeil("enforce_avail = 1;")
		enc.after = true
	}
	enc.w.unindent()
	enc.w.writeil("}")
	return nil
}
func (enc *encodeEmitter) VisitPosition(m *PositionMember) error { return nil }
func (enc *encodeEmitter) VisitEos(m *EosMember) error           { return nil }
func (enc *encodeEmitter) VisitFail(m *FailMember) error {
	enc.w.writeil("goto fail;")
	return nil
}
func (enc *encodeEmitter) VisitIgnore(m *IgnoreMember) error { return nil }

// --- parse -----------------------------------------------------------

func (e *ModuleEmitter) emitParse(w *outputWriter, sd *StructDecl) {
	n, t := sd.Name, cStructType(sd.Name)
	ctxParams := contextParams(sd)
	w.writeilf("ssize_t")
	w.writeilf("%s_parse(%s **output, const uint8_t *input, size_t len_in%s)", n, t, ctxParams)
	w.writeil("{")
	w.indent()
	w.writeilf("%s *obj = %s_new();", t, n)
	w.writeil("if (!obj) return -1;")
	w.writeilf("ssize_t result = %s_parse_into(obj, input, len_in%s);", n, contextArgs(sd))
	w.writeil("if (result < 0) {")
	w.indent()
	w.writeilf("%s_free(obj);", n)
	w.writeil("*output = NULL;")
	w.writeil("return result;")
	w.unindent()
	w.writeil("}")
	w.writeil("*output = obj;")
	w.writeil("return result;")
	w.unindent()
	w.writeil("}")
	w.blank()

	w.writeilf("static ssize_t")
	w.writeilf("%s_parse_into(%s *obj, const uint8_t *input, size_t len_in%s)", n, t, ctxParams)
	w.writeil("{")
	w.indent()
	w.writeil("const uint8_t *ptr = input;")
	w.writeil("size_t remaining = len_in;")
	w.writeil("ssize_t result = 0;")
	labels := &labelSet{needed: map[string]bool{}}
	pe := &parseEmitter{w: w, labels: labels, truncatedLabel: "truncated", structFailLabel: "relay_fail"}
	_ = WalkStruct(pe, sd)
	w.writeil("return len_in - remaining;")
	w.blank()
	if labels.needed["truncated"] {
		w.writeil(" truncated:")
		w.writeil("return -2;")
	}
	if labels.needed["relay_fail"] {
		w.writeil(" relay_fail:")
		w.writeil("return result;")
	}
	if labels.needed["trunnel_alloc_failed"] {
		w.writeil(" trunnel_alloc_failed:")
		w.writeil("return -1;")
	}
	if labels.needed["fail"] {
		w.writeil(" fail:")
		w.writeil("result = -1;")
		w.writeil("return result;")
	}
	w.unindent()
	w.writeil("}")
	w.blank()
}

type parseEmitter struct {
	w               *outputWriter
	labels          *labelSet
	truncatedLabel  string
	structFailLabel string
}

// checkRemaining emits the CHECK_REMAINING equivalent for a parse-side read
// of sz bytes, through whichever label a LenConstrained extent may have
// currently redirected truncation to.
func (p *parseEmitter) checkRemaining(sz string) {
	p.labels.need(p.truncatedLabel)
	p.w.writeilf("CHECK_REMAINING(%s, %s);", sz, p.truncatedLabel)
}

func (p *parseEmitter) gotoFail() {
	p.labels.need("fail")
	p.w.writeil("goto fail;")
}

func (p *parseEmitter) VisitInteger(m *IntegerMember) error {
	sz := m.Width / 8
	p.checkRemaining(fmt.Sprintf("%d", sz))
	p.w.writeilf("obj->%s = trunnel_get_uint%d(ptr);", m.cname(), m.Width)
	p.w.writeilf("remaining -= %d; ptr += %d;", sz, sz)
	if m.Constraint != nil {
		p.labels.need("fail")
		p.w.writeilf("if (! (%s)) goto fail;", constraintExpr("obj->"+m.cname(), m.Constraint))
	}
	return nil
}
func (p *parseEmitter) VisitStruct(m *StructMember) error {
	p.labels.need(p.structFailLabel)
	p.w.writeilf("result = %s_parse(&obj->%s, ptr, remaining%s);", m.TypeName, m.cname(), childContextArgs(m.Target))
	p.w.writeilf("if (result < 0) goto %s;", p.structFailLabel)
	p.w.writeil("remaining -= result; ptr += result;")
	return nil
}
func (p *parseEmitter) VisitString(m *StringMember) error {
	p.w.writeilf("{")
	p.w.indent()
	p.w.writeil("const uint8_t *eos_ = memchr(ptr, 0, remaining);")
	p.labels.need(p.truncatedLabel)
	p.w.writeilf("if (!eos_) goto %s;", p.truncatedLabel)
	p.w.writeil("size_t len_ = eos_ - ptr + 1;")
	p.labels.need("fail")
	p.w.writeilf("if (!(obj->%s = trunnel_malloc(len_))) goto fail;", m.cname())
	p.w.writeilf("memcpy(obj->%s, ptr, len_);", m.cname())
	p.w.writeil("remaining -= len_; ptr += len_;")
	p.w.unindent()
	p.w.writeil("}")
	return nil
}
func (p *parseEmitter) VisitFixedArray(m *FixedArrayMember) error {
	switch m.Elem {
	case ElemChar:
		p.checkRemaining(fmt.Sprintf("%d", m.Width))
		p.w.writeilf("memcpy(obj->%s, ptr, %d);", m.cname(), m.Width)
		p.w.writeilf("obj->%s[%d] = 0;", m.cname(), m.Width)
		p.w.writeilf("remaining -= %d; ptr += %d;", m.Width, m.Width)
	case ElemInt:
		p.checkRemaining(fmt.Sprintf("%d", m.Width*int64(m.ElemWidth/8)))
		p.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) {", m.Width)
		p.w.indent()
		p.w.writeilf("obj->%s[idx_] = trunnel_get_uint%d(ptr);", m.cname(), m.ElemWidth)
		p.w.writeilf("remaining -= %d; ptr += %d;", m.ElemWidth/8, m.ElemWidth/8)
		p.w.unindent()
		p.w.writeil("}")
	case ElemStruct:
		p.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) {", m.Width)
		p.w.indent()
		p.labels.need(p.structFailLabel)
		p.w.writeilf("result = %s_parse(&obj->%s[idx_], ptr, remaining%s);", m.ElemTypeName, m.cname(), childContextArgs(m.Target))
		p.w.writeilf("if (result < 0) goto %s;", p.structFailLabel)
		p.w.writeil("remaining -= result; ptr += result;")
		p.w.unindent()
		p.w.writeil("}")
	}
	return nil
}
func (p *parseEmitter) VisitVarArray(m *VarArrayMember) error {
	if !m.HasWidthField {
		p.w.writeilf("while (remaining > 0) {")
		p.w.indent()
		p.emitOneElement(m)
		p.w.unindent()
		p.w.writeil("}")
		return nil
	}
	switch m.Elem {
	case ElemChar:
		p.checkRemaining(fmt.Sprintf("obj->%s", siblingName(m.WidthFieldMember, m.FieldName)))
		p.labels.need("trunnel_alloc_failed")
		p.w.writeilf("if (trunnel_dynarray_expand(&obj->%s.internal_, obj->%s, 1, (void**)&obj->%s.elts_)) goto trunnel_alloc_failed;", m.cname(), siblingName(m.WidthFieldMember, m.FieldName), m.cname())
		p.w.writeilf("memcpy(obj->%s.elts_, ptr, obj->%s);", m.cname(), siblingName(m.WidthFieldMember, m.FieldName))
		p.w.writeilf("obj->%s.elts_[obj->%s] = 0;", m.cname(), siblingName(m.WidthFieldMember, m.FieldName))
		p.w.writeilf("remaining -= obj->%s; ptr += obj->%s;", siblingName(m.WidthFieldMember, m.FieldName), siblingName(m.WidthFieldMember, m.FieldName))
	case ElemInt, ElemStruct:
		p.w.writeilf("for (size_t idx_ = 0; idx_ < obj->%s; ++idx_) {", siblingName(m.WidthFieldMember, m.FieldName))
		p.w.indent()
		p.emitOneElement(m)
		p.w.unindent()
		p.w.writeil("}")
	}
	return nil
}
func (p *parseEmitter) emitOneElement(m *VarArrayMember) {
	switch m.Elem {
	case ElemChar, ElemInt:
		sz := m.ElemWidth / 8
		if m.Elem == ElemChar {
			sz = 1
		}
		p.checkRemaining(fmt.Sprintf("%d", sz))
		p.labels.need("trunnel_alloc_failed")
		if m.Elem == ElemChar {
			p.w.writeilf("if (trunnel_dynarray_add(&obj->%s.internal_, (uint8_t)*ptr, &obj->%s.elts_)) goto trunnel_alloc_failed;", m.cname(), m.cname())
		} else {
			p.w.writeilf("if (trunnel_dynarray_add_uint%d(&obj->%s.internal_, trunnel_get_uint%d(ptr), &obj->%s.elts_)) goto trunnel_alloc_failed;", m.ElemWidth, m.cname(), m.ElemWidth, m.cname())
		}
		p.w.writeilf("remaining -= %d; ptr += %d;", sz, sz)
	case ElemStruct:
		p.w.writeilf("{")
		p.w.indent()
		p.w.writeilf("struct %s *elt_;", cStructType(m.ElemTypeName))
		p.labels.need(p.structFailLabel)
		p.w.writeilf("result = %s_parse(&elt_, ptr, remaining%s);", m.ElemTypeName, childContextArgs(m.Target))
		p.w.writeilf("if (result < 0) goto %s;", p.structFailLabel)
		p.labels.need("trunnel_alloc_failed")
		p.w.writeilf("if (trunnel_dynarray_add(&obj->%s.internal_, elt_, &obj->%s.elts_)) goto trunnel_alloc_failed;", m.cname(), m.cname())
		p.w.writeil("remaining -= result; ptr += result;")
		p.w.unindent()
		p.w.writeil("}")
	}
}
func (p *parseEmitter) VisitUnion(m *UnionMember) error {
	p.w.writeilf("switch (obj->%s) {", siblingName(m.TagMember, m.TagField))
	for _, uc := range m.Cases {
		emitCaseLabels(p.w, uc)
		p.w.indent()
		branch := &parseEmitter{w: p.w, labels: p.labels, truncatedLabel: p.truncatedLabel, structFailLabel: p.structFailLabel}
		_ = WalkMembers(branch, uc.Members)
		p.w.writeil("break;")
		p.w.unindent()
	}
	p.w.writeil("}")
	return nil
}
func (p *parseEmitter) VisitLenConstrained(m *LenConstrainedMember) error {
	p.w.writeil("{")
	p.w.indent()
	if m.LengthFieldMember != nil {
		p.w.writeilf("size_t extent_len_ = obj->%s;", m.LengthFieldMember.cname())
	} else if m.Leftover != nil {
		// The extent is everything but the last *m.Leftover bytes.
		p.checkRemaining(fmt.Sprintf("%d", *m.Leftover))
		p.w.writeilf("size_t extent_len_ = remaining - %d;", *m.Leftover)
	} else {
		ctxName, fieldName, _ := fieldRef(m.LengthField)
		p.w.writeilf("size_t extent_len_ = %s->%s;", ctxName, fieldName)
	}
	p.checkRemaining("extent_len_")
	p.w.writeil("size_t remaining_after_ = remaining - extent_len_;")
	p.w.writeil("remaining = extent_len_;")
	inner := &parseEmitter{w: p.w, labels: p.labels, truncatedLabel: "fail", structFailLabel: "fail"}
	_ = WalkMembers(inner, m.Members)
	p.labels.need("fail")
	p.w.writeil("if (remaining != 0) goto fail;")
	p.w.writeil("remaining = remaining_after_;")
	p.w.unindent()
	p.w.writeil("}")
	return nil
}
func (p *parseEmitter) VisitPosition(m *PositionMember) error {
	p.w.writeilf("obj->%s = ptr;", m.cname())
	return nil
}
func (p *parseEmitter) VisitEos(m *EosMember) error {
	p.labels.need("fail")
	p.w.writeil("if (remaining != 0) goto fail;")
	return nil
}
func (p *parseEmitter) VisitFail(m *FailMember) error {
	p.gotoFail()
	return nil
}
func (p *parseEmitter) VisitIgnore(m *IgnoreMember) error {
	p.w.writeil("ptr += remaining; remaining = 0;")
	return nil
}

// --- free --------------------------------------------------------------

type freeEmitter struct{ w *outputWriter }

func (f *freeEmitter) VisitInteger(m *IntegerMember) error { return nil }
func (f *freeEmitter) VisitStruct(m *StructMember) error {
	f.w.writeilf("%s_free(obj->%s);", m.TypeName, m.cname())
	return nil
}
func (f *freeEmitter) VisitString(m *StringMember) error {
	f.w.writeilf("trunnel_free_(obj->%s);", m.cname())
	return nil
}
func (f *freeEmitter) VisitFixedArray(m *FixedArrayMember) error {
	if m.Elem == ElemStruct {
		f.w.writeilf("for (size_t idx_ = 0; idx_ < %d; ++idx_) %s_free(obj->%s[idx_]);", m.Width, m.ElemTypeName, m.cname())
	}
	return nil
}
func (f *freeEmitter) VisitVarArray(m *VarArrayMember) error {
	if m.Elem == ElemStruct {
		f.w.writeilf("for (size_t idx_ = 0; idx_ < TRUNNEL_DYNARRAY_LEN(&obj->%s); ++idx_) %s_free(TRUNNEL_DYNARRAY_GET(&obj->%s, idx_));", m.cname(), m.ElemTypeName, m.cname())
	}
	f.w.writeilf("TRUNNEL_DYNARRAY_WIPE(&obj->%s);", m.cname())
	f.w.writeilf("TRUNNEL_DYNARRAY_CLEAR(&obj->%s);", m.cname())
	return nil
}
func (f *freeEmitter) VisitUnion(m *UnionMember) error {
	f.w.writeilf("switch (obj->%s) {", siblingName(m.TagMember, m.TagField))
	for _, uc := range m.Cases {
		emitCaseLabels(f.w, uc)
		f.w.indent()
		_ = WalkMembers(f, uc.Members)
		f.w.writeil("break;")
		f.w.unindent()
	}
	f.w.writeil("}")
	return nil
}
func (f *freeEmitter) VisitLenConstrained(m *LenConstrainedMember) error {
	return WalkMembers(f, m.Members)
}
func (f *freeEmitter) VisitPosition(m *PositionMember) error { return nil }
func (f *freeEmitter) VisitEos(m *EosMember) error           { return nil }
func (f *freeEmitter) VisitFail(m *FailMember) error         { return nil }
func (f *freeEmitter) VisitIgnore(m *IgnoreMember) error     { return nil }

// siblingName returns the C field name for a tag/length/width reference
// resolved by the Annotator to another member of the same struct. A
// reference can itself name a union-branch field, which carries a
// unionName_ prefix in its c_name, so this must not fall back to the raw
// parsed reference text except for context-qualified references (whose
// target lives in a separate context struct, never inside a union).
func siblingName(resolved Member, raw string) string {
	if resolved != nil {
		return resolved.cname()
	}
	return raw
}

func contextParams(sd *StructDecl) string {
	out := ""
	for _, c := range sd.Context {
		out += fmt.Sprintf(", const %s *%s", cStructType(c), c)
	}
	return out
}

func contextArgs(sd *StructDecl) string {
	out := ""
	for _, c := range sd.Context {
		out += ", " + c
	}
	return out
}

// childContextArgs returns the context arguments to forward into a call to
// target's encoded_len/encode/parse. Invariant 6 (context consistency)
// guarantees every name in target.Context is also a context parameter in
// scope in the caller, under the identical name, so it is always safe to
// forward by name rather than thread a separate mapping.
func childContextArgs(target *StructDecl) string {
	if target == nil {
		return ""
	}
	return contextArgs(target)
}
