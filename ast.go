package trunnel

// File is the root of the schema AST (spec.md §3 "File"). It holds the
// ordered declarations the Parser produced plus, after the Checker and
// Annotator run, derived lookup structures.
type File struct {
	Consts  []*ConstDecl
	Structs []*StructDecl
	Externs []*ExternStructDecl
	Options map[string]bool

	// InlineStructs holds struct declarations lifted out of an inline
	// `struct { ... }` member position (spec.md §9 "Inline struct
	// declarations"). They are appended to Structs by the Parser and also
	// recorded here, preserving their original member-position Range for
	// diagnostics.
	InlineStructs []*StructDecl

	// byName is populated by pass1NameTable (Checker pass 1) and gives
	// O(1) lookup by name across constants and structs (extern or not).
	byName map[string]interface{}
}

// LookupStruct returns the members and context list of the struct or
// extern-struct declaration with the given name (members are nil for an
// extern), whether it is an extern, and ok=false if no struct of that name
// exists. Valid only after the Checker's pass 1 has run.
func (f *File) LookupStruct(name string) (members []Member, contexts []string, isExtern bool, ok bool) {
	v, found := f.byName[name]
	if !found {
		return nil, nil, false, false
	}
	switch n := v.(type) {
	case *StructDecl:
		return n.Members, n.Context, false, true
	case *ExternStructDecl:
		return nil, n.Context, true, true
	default:
		return nil, nil, false, false
	}
}

// StructByName returns the *StructDecl for name, or nil if name denotes a
// constant, an extern struct, or is undeclared.
func (f *File) StructByName(name string) *StructDecl {
	if v, ok := f.byName[name]; ok {
		if s, ok := v.(*StructDecl); ok {
			return s
		}
	}
	return nil
}

// ConstDecl is `const NAME = INT;` (spec.md §3).
type ConstDecl struct {
	Name  string
	Value int64
	Doc   string
	Rg    Range
}

// StructDecl is a `struct NAME [with context ...] { ... }` declaration.
type StructDecl struct {
	Name      string
	Members   []Member
	Doc       string
	Context   []string
	IsContext bool
	Rg        Range

	// UsedAsTag/UsedAsLength record, per integer member name declared in
	// this struct, which classification (if any) the Checker assigned it
	// (spec.md §4.1 pass 2, the TL/CL classification map). Populated by
	// the Checker as a side effect of pass 2.
	UsedAsTag    map[string]bool
	UsedAsLength map[string]bool

	// DependsOn is the set of struct names this struct contains by value
	// (spec.md invariant 3, "contains-by-value" graph). Populated by the
	// Checker's pass 2 as dependency edges are discovered.
	DependsOn map[string]bool
}

// ExternStructDecl is `extern struct NAME [with context ...];`.
type ExternStructDecl struct {
	Name    string
	Context []string
	Rg      Range
}

// IntRange is one inclusive range of an IntConstraint.
type IntRange struct {
	Lo, Hi uint64
}

// IntConstraint is a sorted, disjoint union of inclusive integer ranges
// (spec.md §3, invariant 4).
type IntConstraint struct {
	Ranges []IntRange
}

// Matches reports whether v falls within any range of the constraint.
func (c *IntConstraint) Matches(v uint64) bool {
	for _, r := range c.Ranges {
		if v >= r.Lo && v <= r.Hi {
			return true
		}
	}
	return false
}

// ElemKind discriminates the element type of a FixedArray/VarArray member.
type ElemKind int

const (
	ElemInt ElemKind = iota
	ElemChar
	ElemStruct
)

func (k ElemKind) String() string {
	switch k {
	case ElemInt:
		return "int"
	case ElemChar:
		return "char"
	case ElemStruct:
		return "struct"
	default:
		return "?"
	}
}

// base is embedded by every Member implementation. It carries the fields
// common to all members: an optional docstring, the source Range, and the
// derived c_name the Annotator attaches (spec.md §3 "Lifecycle", §4.2).
type base struct {
	Doc   string
	Rg    Range
	CName string
}

func (b *base) Range() Range    { return b.Rg }
func (b *base) Docstring() string { return b.Doc }
func (b *base) cname() string   { return b.CName }
func (b *base) setCName(n string) { b.CName = n }

// Member is the tagged-variant interface over every schema member kind
// (spec.md §3 "Member"). Each concrete type also implements the
// corresponding Accept method required by MemberVisitor.
type Member interface {
	Range() Range
	Docstring() string
	Name() string
	Accept(MemberVisitor) error
	cname() string
	setCName(string)
}

// IntegerMember is `u<width> name [IN [ranges]];`.
type IntegerMember struct {
	base
	Width      int
	MemberName string
	Constraint *IntConstraint
}

func (m *IntegerMember) Name() string                  { return m.MemberName }
func (m *IntegerMember) Accept(v MemberVisitor) error   { return v.VisitInteger(m) }

// StructMember is `struct T name;`.
type StructMember struct {
	base
	TypeName   string
	MemberName string
	Target     *StructDecl // resolved by the Annotator
}

func (m *StructMember) Name() string                { return m.MemberName }
func (m *StructMember) Accept(v MemberVisitor) error { return v.VisitStruct(m) }

// StringMember is `nulterm name;`.
type StringMember struct {
	base
	MemberName string
}

func (m *StringMember) Name() string                { return m.MemberName }
func (m *StringMember) Accept(v MemberVisitor) error { return v.VisitString(m) }

// FixedArrayMember is `T name[N];` for a constant or literal N.
type FixedArrayMember struct {
	base
	Elem         ElemKind
	ElemTypeName string // struct name, when Elem == ElemStruct
	ElemWidth    int    // integer width, when Elem == ElemInt
	MemberName   string

	WidthConstName string // non-empty if N is a named constant
	Width          int64  // resolved literal width

	Target *StructDecl // resolved by the Annotator, when Elem == ElemStruct
}

func (m *FixedArrayMember) Name() string                { return m.MemberName }
func (m *FixedArrayMember) Accept(v MemberVisitor) error { return v.VisitFixedArray(m) }

// VarArrayMember is `T name[width-field];` or, when HasWidthField is false,
// the "remainder" form (`T name[];`, consuming to end of extent).
type VarArrayMember struct {
	base
	Elem         ElemKind
	ElemTypeName string
	ElemWidth    int
	MemberName   string

	HasWidthField bool
	WidthField    string // raw reference text, e.g. "n" or "ctx.n"
	IsContextRef  bool
	ContextName   string
	FieldName     string // the field part of the reference

	WidthFieldMember Member // resolved by the Annotator, when !IsContextRef
	Target           *StructDecl
}

func (m *VarArrayMember) Name() string                { return m.MemberName }
func (m *VarArrayMember) Accept(v MemberVisitor) error { return v.VisitVarArray(m) }

// IsRemainder reports whether this VarArray has a null width field (spec.md
// §3, glossary "Remainder").
func (m *VarArrayMember) IsRemainder() bool { return !m.HasWidthField }

// UnionCase is one `tag-range-list: members...` branch of a union, or the
// default branch when Ranges is nil.
type UnionCase struct {
	Ranges    []IntRange
	IsDefault bool
	Members   []Member
	Rg        Range
}

// UnionMember is `union name[tagfield] [with length L|..-K] { cases };`.
type UnionMember struct {
	base
	MemberName string
	TagField   string
	TagMember  Member // resolved by the Annotator
	Cases      []*UnionCase
}

func (m *UnionMember) Name() string                { return m.MemberName }
func (m *UnionMember) Accept(v MemberVisitor) error { return v.VisitUnion(m) }

// LenConstrainedMember bounds the byte-length of its Members to either a
// prior length field's value, or everything but a fixed count of trailing
// leftover bytes.
type LenConstrainedMember struct {
	base
	LengthField       string // raw "n" or "ctx.n"; empty if Leftover is set
	LengthFieldMember Member // resolved by the Annotator
	Leftover          *int64
	Members           []Member
}

func (m *LenConstrainedMember) Name() string                { return "" }
func (m *LenConstrainedMember) Accept(v MemberVisitor) error { return v.VisitLenConstrained(m) }

// PositionMember is `@ptr name;`.
type PositionMember struct {
	base
	MemberName string
}

func (m *PositionMember) Name() string                { return m.MemberName }
func (m *PositionMember) Accept(v MemberVisitor) error { return v.VisitPosition(m) }

// EosMember is `eos;`.
type EosMember struct{ base }

func (m *EosMember) Name() string                { return "" }
func (m *EosMember) Accept(v MemberVisitor) error { return v.VisitEos(m) }

// FailMember is `fail;`.
type FailMember struct{ base }

func (m *FailMember) Name() string                { return "" }
func (m *FailMember) Accept(v MemberVisitor) error { return v.VisitFail(m) }

// IgnoreMember is `ignore;`.
type IgnoreMember struct{ base }

func (m *IgnoreMember) Name() string                { return "" }
func (m *IgnoreMember) Accept(v MemberVisitor) error { return v.VisitIgnore(m) }

// fieldRef splits a raw width/tag/length field reference into its context
// qualifier (if any) and field name, per spec.md §3 ("a local member name or
// a `context.field` qualifier").
func fieldRef(raw string) (ctxName, fieldName string, qualified bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", raw, false
}

func validIntWidth(w int) bool {
	switch w {
	case 8, 16, 32, 64:
		return true
	default:
		return false
	}
}
