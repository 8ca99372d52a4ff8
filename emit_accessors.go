package trunnel

import "fmt"

// emitAccessorPrototypes declares the getters/setters for every
// non-assertion member of sd (spec.md §4.6).
func (e *HeaderEmitter) emitAccessorPrototypes(w *outputWriter, sd *StructDecl) {
	n := sd.Name
	t := cStructType(sd.Name)
	walkAccessorMembers(sd.Members, "", func(prefix string, m Member) {
		name := prefix + m.Name()
		switch mm := m.(type) {
		case *IntegerMember:
			w.writeilf("%s %s_get_%s(const %s *obj);", cIntType(mm.Width), n, name, t)
			w.writeilf("int %s_set_%s(%s *obj, %s val);", n, name, t, cIntType(mm.Width))
		case *StructMember:
			w.writeilf("struct %s *%s_get_%s(%s *obj);", cStructType(mm.TypeName), n, name, t)
			w.writeilf("int %s_set_%s(%s *obj, struct %s *val);", n, name, t, cStructType(mm.TypeName))
		case *StringMember:
			w.writeilf("const char *%s_get_%s(const %s *obj);", n, name, t)
			w.writeilf("int %s_set_%s(%s *obj, const char *val);", n, name, t)
		case *FixedArrayMember:
			switch mm.Elem {
			case ElemChar:
				w.writeilf("const char *%s_get_%s(const %s *obj);", n, name, t)
				w.writeilf("int %s_set_%s(%s *obj, const char *val);", n, name, t)
			case ElemInt:
				w.writeilf("%s %s_get_%s(%s *obj, size_t idx);", cIntType(mm.ElemWidth), n, name, t)
				w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt);", n, name, t, cIntType(mm.ElemWidth))
			case ElemStruct:
				w.writeilf("struct %s *%s_get_%s(%s *obj, size_t idx);", cStructType(mm.ElemTypeName), n, name, t)
				w.writeilf("int %s_set_%s(%s *obj, size_t idx, struct %s *elt);", n, name, t, cStructType(mm.ElemTypeName))
			}
		case *VarArrayMember:
			e.emitDynArrayProtos(w, n, t, name, mm)
		case *PositionMember:
			w.writeilf("const uint8_t *%s_get_%s(const %s *obj);", n, name, t)
		}
	})
}

func (e *HeaderEmitter) emitDynArrayProtos(w *outputWriter, n, t, name string, mm *VarArrayMember) {
	w.writeilf("size_t %s_getlen_%s(const %s *obj);", n, name, t)
	switch mm.Elem {
	case ElemChar:
		w.writeilf("const char *%s_getstr_%s(const %s *obj);", n, name, t)
		w.writeilf("int %s_setstr_%s(%s *obj, const char *val);", n, name, t)
		w.writeilf("int %s_setstr0_%s(%s *obj, const char *val, size_t len);", n, name, t)
		w.writeilf("uint8_t %s_get_%s(%s *obj, size_t idx);", n, name, t)
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, uint8_t elt);", n, name, t)
	case ElemInt:
		ct := cIntType(mm.ElemWidth)
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx);", ct, n, name, t)
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt);", n, name, t, ct)
		w.writeilf("int %s_add_%s(%s *obj, %s elt);", n, name, t, ct)
	case ElemStruct:
		st := "struct " + cStructType(mm.ElemTypeName) + " *"
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx);", st, n, name, t)
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt);", n, name, t, st)
		w.writeilf("int %s_set0_%s(%s *obj, size_t idx, %s elt);", n, name, t, st)
		w.writeilf("int %s_add_%s(%s *obj, %s elt);", n, name, t, st)
	}
	w.writeilf("int %s_setlen_%s(%s *obj, size_t len);", n, name, t)
}

// emitAccessorBodies writes accessor function bodies into the .c file.
func (e *ModuleEmitter) emitAccessorBodies(w *outputWriter, sd *StructDecl) {
	n := sd.Name
	t := cStructType(sd.Name)
	walkAccessorMembers(sd.Members, "", func(prefix string, m Member) {
		name := prefix + m.Name()
		switch mm := m.(type) {
		case *IntegerMember:
			w.writeilf("%s %s_get_%s(const %s *obj)", cIntType(mm.Width), n, name, t)
			w.writeil("{")
			w.indent()
			w.writeilf("return obj->%s;", name)
			w.unindent()
			w.writeil("}")
			w.blank()
			w.writeilf("int %s_set_%s(%s *obj, %s val)", n, name, t, cIntType(mm.Width))
			w.writeil("{")
			w.indent()
			if mm.Constraint != nil {
				w.writeilf("if (! %s) {", constraintExpr("val", mm.Constraint))
				w.indent()
				w.writeil("TRUNNEL_SET_ERROR_CODE(obj);")
				w.writeil("return -1;")
				w.unindent()
				w.writeil("}")
			}
			w.writeilf("obj->%s = val;", name)
			w.writeil("return 0;")
			w.unindent()
			w.writeil("}")
			w.blank()
		case *StructMember:
			w.writeilf("struct %s *%s_get_%s(%s *obj)", cStructType(mm.TypeName), n, name, t)
			w.writeil("{")
			w.indent()
			w.writeilf("return obj->%s;", name)
			w.unindent()
			w.writeil("}")
			w.blank()
			w.writeilf("int %s_set_%s(%s *obj, struct %s *val)", n, name, t, cStructType(mm.TypeName))
			w.writeil("{")
			w.indent()
			w.writeilf("if (obj->%s)", name)
			w.indent()
			w.writeilf("%s_free(obj->%s);", mm.TypeName, name)
			w.unindent()
			w.writeilf("obj->%s = val;", name)
			w.writeil("return 0;")
			w.unindent()
			w.writeil("}")
			w.blank()
		case *StringMember:
			w.writeilf("const char *%s_get_%s(const %s *obj)", n, name, t)
			w.writeil("{")
			w.indent()
			w.writeilf("return obj->%s;", name)
			w.unindent()
			w.writeil("}")
			w.blank()
			w.writeilf("int %s_set_%s(%s *obj, const char *val)", n, name, t)
			w.writeil("{")
			w.indent()
			w.writeilf("char *newval = trunnel_strdup(val);")
			w.writeil("if (!newval) { TRUNNEL_SET_ERROR_CODE(obj); return -1; }")
			w.writeilf("trunnel_free_(obj->%s);", name)
			w.writeilf("obj->%s = newval;", name)
			w.writeil("return 0;")
			w.unindent()
			w.writeil("}")
			w.blank()
		case *FixedArrayMember:
			e.emitFixedArrayBodies(w, n, t, name, mm)
		case *VarArrayMember:
			e.emitDynArrayBodies(w, n, t, name, mm)
		case *PositionMember:
			w.writeilf("const uint8_t *%s_get_%s(const %s *obj)", n, name, t)
			w.writeil("{")
			w.indent()
			w.writeilf("return obj->%s;", name)
			w.unindent()
			w.writeil("}")
			w.blank()
		}
	})
}

// emitFixedArrayBodies emits getter/setter bodies for a fixed-width array
// member (spec.md §4.6 "Accessor"); char arrays get string-shaped
// accessors, int/struct arrays get indexed accessors matching the dynamic
// array accessor shape minus length management.
func (e *ModuleEmitter) emitFixedArrayBodies(w *outputWriter, n, t, name string, mm *FixedArrayMember) {
	switch mm.Elem {
	case ElemChar:
		w.writeilf("const char *%s_get_%s(const %s *obj)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return obj->%s;", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, const char *val)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("size_t len_ = strlen(val);")
		w.writeilf("if (len_ > %d) { TRUNNEL_SET_ERROR_CODE(obj); return -1; }", mm.Width)
		w.writeilf("memcpy(obj->%s, val, len_);", name)
		w.writeilf("memset(obj->%s + len_, 0, %d - len_);", name, mm.Width+1)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	case ElemInt:
		ct := cIntType(mm.ElemWidth)
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx)", ct, n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return obj->%s[idx];", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt)", n, name, t, ct)
		w.writeil("{")
		w.indent()
		w.writeilf("obj->%s[idx] = elt;", name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	case ElemStruct:
		st := "struct " + cStructType(mm.ElemTypeName) + " *"
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx)", st, n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return obj->%s[idx];", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt)", n, name, t, st)
		w.writeil("{")
		w.indent()
		w.writeilf("if (obj->%s[idx])", name)
		w.indent()
		w.writeilf("%s_free(obj->%s[idx]);", mm.ElemTypeName, name)
		w.unindent()
		w.writeilf("obj->%s[idx] = elt;", name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	}
}

// emitDynArrayBodies emits the full dynamic-array accessor surface spec.md
// §4.6 lists: getlen, get, set (freeing a previous owned struct element),
// set0 (transfer without freeing), add, setlen (0-padding on growth,
// freeing on shrink), and, for char arrays, getstr/setstr/setstr0.
func (e *ModuleEmitter) emitDynArrayBodies(w *outputWriter, n, t, name string, mm *VarArrayMember) {
	w.writeilf("size_t %s_getlen_%s(const %s *obj)", n, name, t)
	w.writeil("{")
	w.indent()
	w.writeilf("return TRUNNEL_DYNARRAY_LEN(&obj->%s);", name)
	w.unindent()
	w.writeil("}")
	w.blank()

	freeFn := "NULL"
	if mm.Elem == ElemStruct {
		freeFn = fmt.Sprintf("(trunnel_free_fn_t)%s_free", mm.ElemTypeName)
	}
	w.writeilf("int %s_setlen_%s(%s *obj, size_t len)", n, name, t)
	w.writeil("{")
	w.indent()
	w.writeilf("return trunnel_dynarray_setlen(&obj->%s.internal_, len, sizeof(obj->%s.elts_[0]), (void**)&obj->%s.elts_, %s);",
		name, name, name, freeFn)
	w.unindent()
	w.writeil("}")
	w.blank()

	switch mm.Elem {
	case ElemChar:
		w.writeilf("const char *%s_getstr_%s(const %s *obj)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return (const char *)obj->%s.elts_;", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_setstr0_%s(%s *obj, const char *val, size_t len)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return trunnel_dynarray_setstr0(&obj->%s.internal_, (const uint8_t *)val, len, (void**)&obj->%s.elts_);", name, name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_setstr_%s(%s *obj, const char *val)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return %s_setstr0_%s(obj, val, strlen(val));", n, name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("uint8_t %s_get_%s(%s *obj, size_t idx)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return TRUNNEL_DYNARRAY_GET(&obj->%s, idx);", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, uint8_t elt)", n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("TRUNNEL_DYNARRAY_SET(&obj->%s, idx, elt);", name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	case ElemInt:
		ct := cIntType(mm.ElemWidth)
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx)", ct, n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return TRUNNEL_DYNARRAY_GET(&obj->%s, idx);", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt)", n, name, t, ct)
		w.writeil("{")
		w.indent()
		w.writeilf("TRUNNEL_DYNARRAY_SET(&obj->%s, idx, elt);", name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_add_%s(%s *obj, %s elt)", n, name, t, ct)
		w.writeil("{")
		w.indent()
		w.writeilf("TRUNNEL_DYNARRAY_ADD(%s, &obj->%s, elt, {TRUNNEL_SET_ERROR_CODE(obj); return -1;});", ct, name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	case ElemStruct:
		st := "struct " + cStructType(mm.ElemTypeName) + " *"
		w.writeilf("%s %s_get_%s(%s *obj, size_t idx)", st, n, name, t)
		w.writeil("{")
		w.indent()
		w.writeilf("return TRUNNEL_DYNARRAY_GET(&obj->%s, idx);", name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set0_%s(%s *obj, size_t idx, %s elt)", n, name, t, st)
		w.writeil("{")
		w.indent()
		w.writeilf("TRUNNEL_DYNARRAY_SET(&obj->%s, idx, elt);", name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_set_%s(%s *obj, size_t idx, %s elt)", n, name, t, st)
		w.writeil("{")
		w.indent()
		w.writeilf("%s old = TRUNNEL_DYNARRAY_GET(&obj->%s, idx);", st, name)
		w.writeilf("if (old) %s_free(old);", mm.ElemTypeName)
		w.writeilf("return %s_set0_%s(obj, idx, elt);", n, name)
		w.unindent()
		w.writeil("}")
		w.blank()
		w.writeilf("int %s_add_%s(%s *obj, %s elt)", n, name, t, st)
		w.writeil("{")
		w.indent()
		w.writeilf("TRUNNEL_DYNARRAY_ADD(%s, &obj->%s, elt, {TRUNNEL_SET_ERROR_CODE(obj); return -1;});", st, name)
		w.writeil("return 0;")
		w.unindent()
		w.writeil("}")
		w.blank()
	}
}

// walkAccessorMembers invokes fn for every addressable member, recursing
// into union branches (prefixed with the union's c_name) and into
// length-constrained extents (no extra prefix — the spec treats their
// members as if declared inline).
func walkAccessorMembers(ms []Member, prefix string, fn func(prefix string, m Member)) {
	for _, m := range ms {
		switch mm := m.(type) {
		case *UnionMember:
			for _, uc := range mm.Cases {
				walkAccessorMembers(uc.Members, mm.CName+"_", fn)
			}
		case *LenConstrainedMember:
			walkAccessorMembers(mm.Members, prefix, fn)
		case *EosMember, *FailMember, *IgnoreMember:
			// no accessor
		default:
			if m.Name() != "" {
				fn(prefix, m)
			}
		}
	}
}

// constraintExpr renders an IntConstraint as a disjunction of C range
// tests over the expression expr.
func constraintExpr(expr string, c *IntConstraint) string {
	out := ""
	for i, r := range c.Ranges {
		if i > 0 {
			out += " || "
		}
		if r.Lo == r.Hi {
			out += fmt.Sprintf("(%s == %d)", expr, r.Lo)
		} else {
			out += fmt.Sprintf("(%s >= %d && %s <= %d)", expr, r.Lo, expr, r.Hi)
		}
	}
	if out == "" {
		return "1"
	}
	return out
}
