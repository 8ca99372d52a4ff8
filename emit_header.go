package trunnel

import "fmt"

// HeaderEmitter produces the `.h` half of a compiled schema (spec.md
// §4.4). It is a thin wrapper over outputWriter, grounded on the
// teacher's gen_go.go top-level "walk declarations, write text" shape
// even though none of that file's Go-specific logic survives here.
type HeaderEmitter struct {
	file *File
	opts CompileOptions
}

func NewHeaderEmitter(file *File, opts CompileOptions) *HeaderEmitter {
	return &HeaderEmitter{file: file, opts: opts}
}

// Emit renders the full header text for guardName (the uppercased
// include-guard stem, typically derived from the schema's base filename).
func (e *HeaderEmitter) Emit(guardName string) string {
	w := newOutputWriter("  ")
	guard := fmt.Sprintf("TRUNNEL_%s_H", guardName)
	w.writeilf("#ifndef %s", guard)
	w.writeilf("#define %s", guard)
	w.blank()
	w.writeil(`#include "trunnel.h"`)
	w.blank()

	for _, cd := range e.file.Consts {
		if cd.Doc != "" {
			e.emitDoc(w, cd.Doc)
		}
		w.writeilf("#define %s %d", cd.Name, cd.Value)
	}
	w.blank()

	opaque := e.opts.Opaque || e.opts.VeryOpaque
	for _, sd := range e.file.Structs {
		e.emitStructDecl(w, sd, opaque)
	}

	w.writeilf("#endif")
	return w.String()
}

func (e *HeaderEmitter) emitDoc(w *outputWriter, doc string) {
	if doc == "" {
		return
	}
	w.writeilf("/** %s */", doc)
}

func (e *HeaderEmitter) emitStructDecl(w *outputWriter, sd *StructDecl, opaque bool) {
	typeName := cStructType(sd.Name)
	if sd.Doc != "" {
		e.emitDoc(w, sd.Doc)
	}
	if opaque {
		w.writeilf("typedef struct %s %s;", typeName, typeName)
	} else {
		w.writeilf("typedef struct %s {", typeName)
		w.indent()
		e.emitLayout(w, sd.Members)
		w.writeil("uint8_t trunnel_error_code_;")
		w.unindent()
		w.writeilf("} %s;", typeName)
	}
	w.blank()
	e.emitPrototypes(w, sd)
	w.blank()
}

func (e *HeaderEmitter) emitLayout(w *outputWriter, members []Member) {
	for _, m := range members {
		// Field names use c_name rather than the declared name so that a
		// union branch's members, which coexist with every other branch's
		// in this same layout, don't collide (spec.md §4.4: "each prefixed
		// with the union name").
		switch mm := m.(type) {
		case *IntegerMember:
			w.writeilf("%s %s;", cFieldType(mm), mm.cname())
		case *StructMember:
			w.writeilf("%s%s;", cFieldType(mm), mm.cname())
		case *StringMember:
			w.writeilf("char *%s;", mm.cname())
		case *FixedArrayMember:
			switch mm.Elem {
			case ElemChar:
				w.writeilf("char %s[%d];", mm.cname(), mm.resolvedWidth()+1)
			case ElemInt:
				w.writeilf("%s %s[%d];", cIntType(mm.ElemWidth), mm.cname(), mm.resolvedWidth())
			case ElemStruct:
				w.writeilf("struct %s *%s[%d];", cStructType(mm.ElemTypeName), mm.cname(), mm.resolvedWidth())
			}
		case *VarArrayMember:
			w.writeilf("%s %s;", cFieldType(mm), mm.cname())
		case *UnionMember:
			for _, uc := range mm.Cases {
				e.emitLayout(w, uc.Members)
			}
		case *LenConstrainedMember:
			e.emitLayout(w, mm.Members)
		case *PositionMember:
			w.writeilf("const uint8_t *%s;", mm.cname())
		case *EosMember, *FailMember, *IgnoreMember:
			// no layout contribution
		}
	}
}

// resolvedWidth returns the fixed array's element count, whichever way it
// was spelled in the schema (literal or named constant).
func (m *FixedArrayMember) resolvedWidth() int64 { return m.Width }

func (e *HeaderEmitter) emitPrototypes(w *outputWriter, sd *StructDecl) {
	t := cStructType(sd.Name)
	n := sd.Name
	ctxParams := ""
	for _, c := range sd.Context {
		ctxParams += fmt.Sprintf(", const %s *%s", cStructType(c), c)
	}
	w.writeilf("%s *%s_new(void);", t, n)
	w.writeilf("void %s_free(%s *obj);", n, t)
	w.writeilf("void %s_clear_errors(%s *obj);", n, t)
	w.writeilf("const char *%s_check(const %s *obj);", n, t)
	w.writeilf("ssize_t %s_encoded_len(const %s *obj%s);", n, t, ctxParams)
	w.writeilf("ssize_t %s_encode(uint8_t *output, size_t avail, const %s *obj%s);", n, t, ctxParams)
	w.writeilf("ssize_t %s_parse(%s **output, const uint8_t *input, size_t len_in%s);", n, t, ctxParams)
	w.blank()
	e.emitAccessorPrototypes(w, sd)
}
