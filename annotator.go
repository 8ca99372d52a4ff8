package trunnel

// Annotator attaches the derived attributes the Emitter needs onto an
// already-Checked File: c_name and resolved struct/field cross-references
// (spec.md §4.2). It threads the after_leftover_field flag through each
// member sequence but does not record it on the members; emitters derive
// it themselves (afterLeftoverField, encodeEmitter.after). It is a pure
// structural transform over data the Checker has already proven
// consistent, so it cannot fail.
type Annotator struct {
	file *File
}

// NewAnnotator constructs an Annotator for a Checked file.
func NewAnnotator(file *File) *Annotator {
	return &Annotator{file: file}
}

// Annotate decorates every struct in topological order. Order does not
// actually matter for correctness here (each struct's annotation only
// looks at itself and its named targets, never a target's derived
// fields), but annotating in the Checker's topo order keeps the pipeline's
// stated invariant ("All resolution completes before any emission
// begins", spec.md §5) easy to audit.
func (a *Annotator) Annotate(order []string) {
	for _, name := range order {
		sd := a.file.StructByName(name)
		if sd == nil {
			continue // order names only declared structs (contexts included), never externs
		}
		a.annotateStruct(sd)
	}
}

func (a *Annotator) annotateStruct(sd *StructDecl) {
	byName := map[string]Member{}
	for _, m := range sd.Members {
		if m.Name() != "" {
			byName[m.Name()] = m
		}
	}
	after := false
	a.annotateMembers(sd.Members, "", byName, after)
}

// annotateMembers walks ms in order, assigning c_name (prefixed by
// unionPrefix when walking a union branch), resolving cross-references,
// and threading the after-leftover flag. It returns the outgoing value of
// that flag, i.e. whether a leftover-bytes extent was crossed anywhere in
// ms (spec.md §4.2, §9 "Emitter after-leftover plumbing").
func (a *Annotator) annotateMembers(ms []Member, unionPrefix string, byName map[string]Member, incoming bool) bool {
	after := incoming
	for _, m := range ms {
		if unionPrefix != "" && m.Name() != "" {
			m.setCName(unionPrefix + m.Name())
		} else {
			m.setCName(m.Name())
		}
		switch mm := m.(type) {
		case *StructMember:
			mm.Target = a.file.StructByName(mm.TypeName)
		case *FixedArrayMember:
			if mm.Elem == ElemStruct {
				mm.Target = a.file.StructByName(mm.ElemTypeName)
			}
		case *VarArrayMember:
			if mm.Elem == ElemStruct {
				mm.Target = a.file.StructByName(mm.ElemTypeName)
			}
			if mm.HasWidthField && !mm.IsContextRef {
				mm.WidthFieldMember = byName[mm.FieldName]
			}
		case *UnionMember:
			mm.TagMember = byName[mm.TagField]
			for _, uc := range mm.Cases {
				caseNames := cloneMemberMap(byName)
				for _, cm := range uc.Members {
					if cm.Name() != "" {
						caseNames[cm.Name()] = cm
					}
				}
				// Each branch inherits `after` but does not propagate its
				// own outgoing value to sibling branches (spec.md §9).
				a.annotateMembers(uc.Members, mm.CName+"_", caseNames, after)
			}
		case *LenConstrainedMember:
			if mm.Leftover == nil && mm.LengthField != "" {
				_, fieldName, qualified := fieldRef(mm.LengthField)
				if !qualified {
					mm.LengthFieldMember = byName[fieldName]
				}
			}
			innerNames := cloneMemberMap(byName)
			for _, im := range mm.Members {
				if im.Name() != "" {
					innerNames[im.Name()] = im
				}
			}
			innerAfter := a.annotateMembers(mm.Members, unionPrefix, innerNames, after)
			if mm.Leftover != nil {
				after = true
			} else {
				after = innerAfter
			}
		}
	}
	return after
}

func cloneMemberMap(m map[string]Member) map[string]Member {
	out := make(map[string]Member, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// afterLeftoverField reports whether a member sits after a leftover-bytes
// LenConstrained boundary, for emitters that need it without re-running
// the annotation walk. It is recomputed on demand by walking members in
// order (into extents and union branches) until target is reached; the
// Annotator does not store it per-member.
func afterLeftoverField(members []Member, target Member) bool {
	after := false
	var walk func([]Member) bool
	walk = func(ms []Member) bool {
		for _, m := range ms {
			if m == target {
				return after
			}
			if lc, ok := m.(*LenConstrainedMember); ok {
				if walk(lc.Members) {
					return true
				}
				if lc.Leftover != nil {
					after = true
				}
			}
			if u, ok := m.(*UnionMember); ok {
				for _, uc := range u.Cases {
					if walk(uc.Members) {
						return true
					}
				}
			}
		}
		return false
	}
	return walk(members) || after
}
