package trunnel

// MemberVisitor is the dispatch interface every Member variant calls into
// through Accept (spec.md §4.3: "The Emitter and Annotator traverse the
// tree via a visitor abstraction"). A visitor that encounters a variant it
// has no method for is a development-time bug, not a runtime condition:
// Go's interface satisfaction makes that impossible to observe here, so
// there is no catch-all arm to write.
type MemberVisitor interface {
	VisitInteger(*IntegerMember) error
	VisitStruct(*StructMember) error
	VisitString(*StringMember) error
	VisitFixedArray(*FixedArrayMember) error
	VisitVarArray(*VarArrayMember) error
	VisitUnion(*UnionMember) error
	VisitLenConstrained(*LenConstrainedMember) error
	VisitPosition(*PositionMember) error
	VisitEos(*EosMember) error
	VisitFail(*FailMember) error
	VisitIgnore(*IgnoreMember) error
}

// WalkMembers visits each member of ms in order, stopping at the first
// error (spec.md §5 "Ordering": members are emitted/walked in declaration
// order).
func WalkMembers(v MemberVisitor, ms []Member) error {
	for _, m := range ms {
		if err := m.Accept(v); err != nil {
			return err
		}
	}
	return nil
}

// WalkStruct visits every member of a struct declaration in order.
func WalkStruct(v MemberVisitor, s *StructDecl) error {
	return WalkMembers(v, s.Members)
}

// childMemberLists returns the immediate child member lists of a composite
// member (Union, LenConstrained), and nil for any other member. No pass in
// this package calls it; the Annotator and Checker recurse through their
// own switches.
func childMemberLists(m Member) [][]Member {
	switch mm := m.(type) {
	case *UnionMember:
		lists := make([][]Member, len(mm.Cases))
		for i, c := range mm.Cases {
			lists[i] = c.Members
		}
		return lists
	case *LenConstrainedMember:
		return [][]Member{mm.Members}
	default:
		return nil
	}
}
