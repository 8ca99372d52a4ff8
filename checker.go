package trunnel

import "sort"

// Checker validates a parsed File and computes the struct dependency
// topological order (spec.md §4.1). It never mutates cross-references
// (that is the Annotator's job) but it does perform the one rewrite the
// Parser could not: resolving a `T field[ref]` member to either a
// FixedArrayMember (ref names a constant) or a VarArrayMember (ref names
// an earlier field), and it records, on each StructDecl, which integer
// fields were used as a tag or as a length (the TL/CL classification of
// §4.1 pass 2).
type Checker struct {
	file *File
}

// NewChecker constructs a Checker for file.
func NewChecker(file *File) *Checker {
	return &Checker{file: file}
}

// Check runs all four passes in order and returns the topologically
// sorted struct name order on success. A single SchemaError aborts the
// whole compilation (spec.md §4.1 "Failure semantics").
func (c *Checker) Check() ([]string, error) {
	if err := c.pass1NameTable(); err != nil {
		return nil, err
	}
	if err := c.pass2Structs(); err != nil {
		return nil, err
	}
	order, err := c.pass3TopoSort()
	if err != nil {
		return nil, err
	}
	if err := c.pass4ContextConsistency(); err != nil {
		return nil, err
	}
	return order, nil
}

// pass1NameTable collects unique constant and struct names into a single
// namespace (spec.md §4.1 pass 1, invariant 1 "Closed universe" setup).
func (c *Checker) pass1NameTable() error {
	c.file.byName = map[string]interface{}{}
	for _, cd := range c.file.Consts {
		if _, dup := c.file.byName[cd.Name]; dup {
			return newSchemaError(cd.Rg, "duplicate name %q", cd.Name)
		}
		c.file.byName[cd.Name] = cd
	}
	for _, sd := range c.file.Structs {
		if _, dup := c.file.byName[sd.Name]; dup {
			return newSchemaError(sd.Rg, "duplicate name %q", sd.Name)
		}
		c.file.byName[sd.Name] = sd
	}
	for _, ed := range c.file.Externs {
		if _, dup := c.file.byName[ed.Name]; dup {
			return newSchemaError(ed.Rg, "duplicate name %q", ed.Name)
		}
		c.file.byName[ed.Name] = ed
	}
	return nil
}

// pass2Structs walks every struct's members in order, validating
// constraints, resolving array-width/tag/length references, and recording
// dependency edges (spec.md §4.1 pass 2).
func (c *Checker) pass2Structs() error {
	for _, sd := range c.file.Structs {
		if err := c.checkStruct(sd); err != nil {
			return err
		}
	}
	return nil
}

// fieldWalk is the per-struct state threaded through pass 2 (spec.md
// §4.1: "the set of member names declared so far; a map from local
// integer-field name to width; a classification map").
type fieldWalk struct {
	sd          *StructDecl
	seenNames   map[string]bool
	intWidths   map[string]int
	intFields   map[string]*IntegerMember
	depth       int // current LenConstrained nesting depth
}

func (c *Checker) checkStruct(sd *StructDecl) error {
	sd.UsedAsTag = map[string]bool{}
	sd.UsedAsLength = map[string]bool{}
	sd.DependsOn = map[string]bool{}
	w := &fieldWalk{
		sd:        sd,
		seenNames: map[string]bool{},
		intWidths: map[string]int{},
		intFields: map[string]*IntegerMember{},
	}
	members, err := c.checkMembers(w, sd.Members)
	if err != nil {
		return err
	}
	sd.Members = members
	return nil
}

// checkMembers validates ms in order and returns a possibly-rewritten
// slice (VarArrayMember-by-constant-name members become FixedArrayMember).
func (c *Checker) checkMembers(w *fieldWalk, ms []Member) ([]Member, error) {
	out := make([]Member, len(ms))
	for i, m := range ms {
		rewritten, err := c.checkMember(w, m)
		if err != nil {
			return nil, err
		}
		out[i] = rewritten
	}
	return out, nil
}

func (c *Checker) declareName(w *fieldWalk, name string, rg Range) error {
	if name == "" {
		return nil
	}
	if w.seenNames[name] {
		return newSchemaError(rg, "duplicate member name %q", name).withStruct(w.sd.Name)
	}
	w.seenNames[name] = true
	return nil
}

func (c *Checker) checkMember(w *fieldWalk, m Member) (Member, error) {
	switch mm := m.(type) {
	case *IntegerMember:
		if err := c.declareName(w, mm.MemberName, mm.Rg); err != nil {
			return nil, err
		}
		if !validIntWidth(mm.Width) {
			return nil, newSchemaError(mm.Rg, "invalid integer width %d", mm.Width).withStruct(w.sd.Name)
		}
		if mm.Constraint != nil {
			if err := c.checkConstraint(w, mm); err != nil {
				return nil, err
			}
		}
		w.intWidths[mm.MemberName] = mm.Width
		w.intFields[mm.MemberName] = mm
		return mm, nil

	case *StructMember:
		if err := c.declareName(w, mm.MemberName, mm.Rg); err != nil {
			return nil, err
		}
		if err := c.requireStructExists(w, mm.TypeName, mm.Rg); err != nil {
			return nil, err
		}
		w.sd.DependsOn[mm.TypeName] = true
		return mm, nil

	case *StringMember:
		return mm, c.declareName(w, mm.MemberName, mm.Rg)

	case *FixedArrayMember:
		if err := c.declareName(w, mm.MemberName, mm.Rg); err != nil {
			return nil, err
		}
		if mm.Elem == ElemStruct {
			if err := c.requireStructExists(w, mm.ElemTypeName, mm.Rg); err != nil {
				return nil, err
			}
			w.sd.DependsOn[mm.ElemTypeName] = true
		}
		if mm.Elem == ElemInt && !validIntWidth(mm.ElemWidth) {
			return nil, newSchemaError(mm.Rg, "invalid integer width %d", mm.ElemWidth).withStruct(w.sd.Name)
		}
		return mm, nil

	case *VarArrayMember:
		return c.checkVarArray(w, mm)

	case *UnionMember:
		return c.checkUnion(w, mm)

	case *LenConstrainedMember:
		return c.checkLenConstrained(w, mm)

	case *PositionMember:
		return mm, c.declareName(w, mm.MemberName, mm.Rg)

	case *EosMember:
		return mm, nil

	case *FailMember:
		return mm, nil

	case *IgnoreMember:
		if w.depth == 0 {
			return nil, newSchemaError(mm.Rg, "ignore is only allowed inside a length-constrained extent").withStruct(w.sd.Name)
		}
		return mm, nil

	default:
		return nil, newSchemaError(Range{}, "internal error: unknown member variant %T", m)
	}
}

func (c *Checker) checkConstraint(w *fieldWalk, mm *IntegerMember) error {
	maxv := uint64(1)<<uint(mm.Width) - 1
	for _, r := range mm.Constraint.Ranges {
		if r.Lo > r.Hi || r.Hi > maxv {
			return newSchemaError(mm.Rg, "constraint range [%d..%d] out of bounds for u%d", r.Lo, r.Hi, mm.Width).withStruct(w.sd.Name).withMember(mm.MemberName)
		}
	}
	sort.Slice(mm.Constraint.Ranges, func(i, j int) bool {
		return mm.Constraint.Ranges[i].Lo < mm.Constraint.Ranges[j].Lo
	})
	return nil
}

func (c *Checker) requireStructExists(w *fieldWalk, name string, rg Range) error {
	if _, ok := c.file.byName[name]; !ok {
		return newSchemaError(rg, "reference to undeclared struct %q", name).withStruct(w.sd.Name)
	}
	return nil
}

// checkVarArray resolves the `ref` in `T field[ref]` and either confirms it
// as a var-array width field, or rewrites the member into a FixedArrayMember
// when `ref` turns out to name a constant (spec.md §3 FixedArray "width is
// an integer or a constant name").
func (c *Checker) checkVarArray(w *fieldWalk, mm *VarArrayMember) (Member, error) {
	if err := c.declareName(w, mm.MemberName, mm.Rg); err != nil {
		return nil, err
	}
	if mm.Elem == ElemStruct {
		if err := c.requireStructExists(w, mm.ElemTypeName, mm.Rg); err != nil {
			return nil, err
		}
		w.sd.DependsOn[mm.ElemTypeName] = true
	}
	if !mm.HasWidthField {
		return mm, nil // remainder form
	}
	if mm.IsContextRef {
		return mm, nil // context-qualified refs are resolved by the Annotator
	}
	if cd, ok := c.file.byName[mm.WidthField]; ok {
		if constDecl, isConst := cd.(*ConstDecl); isConst {
			return &FixedArrayMember{
				base:           base{Doc: mm.Doc, Rg: mm.Rg},
				Elem:           mm.Elem,
				ElemTypeName:   mm.ElemTypeName,
				ElemWidth:      mm.ElemWidth,
				MemberName:     mm.MemberName,
				WidthConstName: mm.WidthField,
				Width:          constDecl.Value,
			}, nil
		}
	}
	field, ok := w.intFields[mm.FieldName]
	if !ok {
		return nil, newSchemaError(mm.Rg, "width field %q does not name an earlier integer field", mm.WidthField).withStruct(w.sd.Name).withMember(mm.MemberName)
	}
	if w.sd.UsedAsTag[mm.FieldName] {
		return nil, newSchemaError(mm.Rg, "field %q used both as a union tag and as a length", mm.FieldName).withStruct(w.sd.Name)
	}
	w.sd.UsedAsLength[mm.FieldName] = true
	_ = field
	return mm, nil
}

func (c *Checker) checkUnion(w *fieldWalk, mm *UnionMember) (Member, error) {
	if err := c.declareName(w, mm.MemberName, mm.Rg); err != nil {
		return nil, err
	}
	field, ok := w.intFields[mm.TagField]
	if !ok {
		return nil, newSchemaError(mm.Rg, "tag field %q does not name an earlier integer field", mm.TagField).withStruct(w.sd.Name).withMember(mm.MemberName)
	}
	if w.sd.UsedAsLength[mm.TagField] {
		return nil, newSchemaError(mm.Rg, "field %q used both as a union tag and as a length", mm.TagField).withStruct(w.sd.Name)
	}
	w.sd.UsedAsTag[mm.TagField] = true
	_ = field

	if err := c.checkUnionTagDisjointness(w, mm); err != nil {
		return nil, err
	}

	defaults := 0
	for _, uc := range mm.Cases {
		if uc.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return nil, newSchemaError(mm.Rg, "union %q has more than one default branch", mm.MemberName).withStruct(w.sd.Name)
	}
	if defaults == 0 {
		mm.Cases = append(mm.Cases, &UnionCase{IsDefault: true, Members: []Member{&FailMember{}}})
	}

	for _, uc := range mm.Cases {
		// Union branches share this struct's member namespace (c_name
		// prefixing happens in the Annotator) but each has its own
		// earlier-field view built fresh from the outer scope, since a
		// name declared in one branch must not leak into a sibling
		// branch (spec.md invariant 1, "union-prefixed variants").
		branchWalk := &fieldWalk{
			sd:        w.sd,
			seenNames: map[string]bool{},
			intWidths: cloneIntWidths(w.intWidths),
			intFields: cloneIntFields(w.intFields),
			depth:     w.depth,
		}
		members, err := c.checkMembers(branchWalk, uc.Members)
		if err != nil {
			return nil, err
		}
		uc.Members = members
	}
	return mm, nil
}

func cloneIntWidths(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntFields(m map[string]*IntegerMember) map[string]*IntegerMember {
	out := make(map[string]*IntegerMember, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// checkUnionTagDisjointness verifies invariant 4: tag-range lists across
// union branches are pairwise disjoint. Default branches are excluded
// since they match whatever no other branch claimed.
func (c *Checker) checkUnionTagDisjointness(w *fieldWalk, mm *UnionMember) error {
	type span struct {
		lo, hi uint64
	}
	var spans []span
	for _, uc := range mm.Cases {
		if uc.IsDefault {
			continue
		}
		for _, r := range uc.Ranges {
			spans = append(spans, span{r.Lo, r.Hi})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	for i := 1; i < len(spans); i++ {
		if spans[i].lo <= spans[i-1].hi {
			return newSchemaError(mm.Rg, "Duplicate tag values in union %q", mm.MemberName).withStruct(w.sd.Name)
		}
	}
	return nil
}

func (c *Checker) checkLenConstrained(w *fieldWalk, mm *LenConstrainedMember) (Member, error) {
	if w.depth >= 1 {
		return nil, newSchemaError(mm.Rg, "nested length-constrained extents are not allowed").withStruct(w.sd.Name)
	}
	if mm.Leftover == nil {
		if mm.LengthField == "" {
			return nil, newSchemaError(mm.Rg, "length-constrained extent has neither a length field nor leftover-bytes").withStruct(w.sd.Name)
		}
		ctxName, fieldName, qualified := fieldRef(mm.LengthField)
		if !qualified {
			field, ok := w.intFields[fieldName]
			if !ok {
				return nil, newSchemaError(mm.Rg, "length field %q does not name an earlier integer field", mm.LengthField).withStruct(w.sd.Name)
			}
			if w.sd.UsedAsTag[fieldName] {
				return nil, newSchemaError(mm.Rg, "field %q used both as a union tag and as a length", fieldName).withStruct(w.sd.Name)
			}
			w.sd.UsedAsLength[fieldName] = true
			_ = field
		}
		_ = ctxName
	}
	inner := &fieldWalk{
		sd:        w.sd,
		seenNames: w.seenNames,
		intWidths: w.intWidths,
		intFields: w.intFields,
		depth:     w.depth + 1,
	}
	members, err := c.checkMembers(inner, mm.Members)
	if err != nil {
		return nil, err
	}
	mm.Members = members
	return mm, nil
}

// pass3TopoSort computes the struct dependency closure, rejects cycles,
// and produces a deterministic topological order (spec.md §4.1 pass 3).
func (c *Checker) pass3TopoSort() ([]string, error) {
	remaining := map[string]map[string]bool{}
	for _, sd := range c.file.Structs {
		deps := map[string]bool{}
		for dep := range sd.DependsOn {
			if c.file.StructByName(dep) != nil {
				deps[dep] = true
			}
		}
		remaining[sd.Name] = deps
	}

	// Transitive closure via fixed-point iteration (not reflexive, so a
	// struct appears in its own set only through a real cycle).
	closure := map[string]map[string]bool{}
	for name, deps := range remaining {
		closure[name] = cloneBoolSet(deps)
	}
	for {
		grew := false
		for _, deps := range closure {
			for dep := range cloneBoolSet(deps) {
				for trans := range closure[dep] {
					if !deps[trans] {
						deps[trans] = true
						grew = true
					}
				}
			}
		}
		if !grew {
			break
		}
	}
	for name, deps := range closure {
		if deps[name] {
			return nil, newSchemaError(Range{}, "cyclic struct dependency involving %q", name).withStruct(name)
		}
	}

	var order []string
	left := remaining
	for len(left) > 0 {
		var ready []string
		for name, deps := range left {
			if len(deps) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			// Unreachable: a non-empty remaining set with no zero-dependency
			// node implies a cycle, which was already rejected above.
			return nil, newSchemaError(Range{}, "internal error: topological sort stalled")
		}
		sort.Strings(ready)
		for _, name := range ready {
			order = append(order, name)
			delete(left, name)
		}
		for _, deps := range left {
			for _, name := range ready {
				delete(deps, name)
			}
		}
	}
	return order, nil
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// pass4ContextConsistency enforces invariant 6: if A contains B, A's
// context list must be a superset of B's.
func (c *Checker) pass4ContextConsistency() error {
	for _, sd := range c.file.Structs {
		aCtx := toSet(sd.Context)
		for dep := range sd.DependsOn {
			target := c.file.StructByName(dep)
			var bCtx []string
			if target != nil {
				bCtx = target.Context
			} else {
				continue
			}
			for _, need := range bCtx {
				if !aCtx[need] {
					return newSchemaError(sd.Rg, "struct %q contains %q but is missing context %q", sd.Name, dep, need).withStruct(sd.Name)
				}
			}
		}
	}
	return nil
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}
