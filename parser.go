package trunnel

import (
	"fmt"
)

// Parser is the external collaborator named in spec.md §1/§6: it turns a
// Lexer's token stream into an unvalidated AST. Name resolution, cycle
// detection and every other semantic rule belongs to the Checker and
// Annotator; the Parser only establishes shape.
type Parser struct {
	lex *Lexer
	cur Token
}

// NewParser primes a Parser over schema source text.
func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return &SchemaError{Message: fmt.Sprintf(format, args...), Rg: p.cur.Rg}
}

func (p *Parser) isPunct(s string) bool  { return p.cur.Kind == TokPunct && p.cur.Text == s }
func (p *Parser) isKeyword(s string) bool { return p.cur.Kind == TokKeyword && p.cur.Text == s }

func (p *Parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errf("expected %q, got %q", s, p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) expectKeyword(s string) error {
	if !p.isKeyword(s) {
		return p.errf("expected keyword %q, got %q", s, p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) expectIdent() (string, Range, error) {
	if p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword {
		return "", Range{}, p.errf("expected identifier, got %q", p.cur.Text)
	}
	name, rg := p.cur.Text, p.cur.Rg
	return name, rg, p.advance()
}

func (p *Parser) expectInt() (int64, error) {
	if p.cur.Kind != TokInt {
		return 0, p.errf("expected integer, got %q", p.cur.Text)
	}
	v := p.cur.Value
	return v, p.advance()
}

// ParseFile parses a complete schema, returning its unvalidated AST.
func (p *Parser) ParseFile() (*File, error) {
	f := &File{Options: map[string]bool{}}
	for p.cur.Kind != TokEOF {
		doc := p.lex.TakeDoc()
		switch {
		case p.isKeyword("const"):
			c, err := p.parseConst(doc)
			if err != nil {
				return nil, err
			}
			f.Consts = append(f.Consts, c)
		case p.isKeyword("extern"):
			e, err := p.parseExternStruct()
			if err != nil {
				return nil, err
			}
			f.Externs = append(f.Externs, e)
		case p.isKeyword("trunnel"):
			if err := p.parseOptions(f); err != nil {
				return nil, err
			}
		case p.isKeyword("context"):
			s, err := p.parseStructLike(doc, true)
			if err != nil {
				return nil, err
			}
			f.Structs = append(f.Structs, s)
		case p.isKeyword("struct"):
			s, inline, err := p.parseTopLevelStruct(doc)
			if err != nil {
				return nil, err
			}
			f.Structs = append(f.Structs, s)
			f.Structs = append(f.Structs, inline...)
			f.InlineStructs = append(f.InlineStructs, inline...)
		default:
			return nil, p.errf("unexpected token %q at top level", p.cur.Text)
		}
	}
	return f, nil
}

func (p *Parser) parseConst(doc string) (*ConstDecl, error) {
	start := p.cur.Rg
	if err := p.expectKeyword("const"); err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	v, err := p.expectInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &ConstDecl{Name: name, Value: v, Doc: doc, Rg: start}, nil
}

func (p *Parser) parseContextList() ([]string, error) {
	var ctx []string
	if !p.isKeyword("with") {
		return ctx, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("context"); err != nil {
		return nil, err
	}
	for {
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ctx = append(ctx, name)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return ctx, nil
}

func (p *Parser) parseExternStruct() (*ExternStructDecl, error) {
	start := p.cur.Rg
	if err := p.expectKeyword("extern"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("struct"); err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ctx, err := p.parseContextList()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &ExternStructDecl{Name: name, Context: ctx, Rg: start}, nil
}

func (p *Parser) parseOptions(f *File) error {
	if err := p.expectKeyword("trunnel"); err != nil {
		return err
	}
	if err := p.expectKeyword("options"); err != nil {
		return err
	}
	for {
		name, _, err := p.expectIdent()
		if err != nil {
			return err
		}
		f.Options[name] = true
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
			continue
		}
		break
	}
	return p.expectPunct(";")
}

// parseTopLevelStruct parses `struct NAME [with context ...] { members }`
// and returns it along with any inline struct declarations lifted out of
// member position (spec.md §9).
func (p *Parser) parseTopLevelStruct(doc string) (*StructDecl, []*StructDecl, error) {
	start := p.cur.Rg
	if err := p.expectKeyword("struct"); err != nil {
		return nil, nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, nil, err
	}
	ctx, err := p.parseContextList()
	if err != nil {
		return nil, nil, err
	}
	var inline []*StructDecl
	members, err := p.parseMemberBlock(&inline)
	if err != nil {
		return nil, nil, err
	}
	return &StructDecl{Name: name, Members: members, Doc: doc, Context: ctx, Rg: start}, inline, nil
}

// parseStructLike parses a `context NAME { int-field; ... }` block. Context
// structs carry no wire representation (spec.md §3 "StructDecl").
func (p *Parser) parseStructLike(doc string, isContext bool) (*StructDecl, error) {
	start := p.cur.Rg
	if err := p.expectKeyword("context"); err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var inline []*StructDecl
	members, err := p.parseMemberBlock(&inline)
	if err != nil {
		return nil, err
	}
	return &StructDecl{Name: name, Members: members, Doc: doc, IsContext: isContext, Rg: start}, nil
}

func (p *Parser) parseMemberBlock(inline *[]*StructDecl) ([]Member, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var members []Member
	for !p.isPunct("}") {
		doc := p.lex.TakeDoc()
		m, err := p.parseMember(doc, inline)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, p.expectPunct("}")
}

// parseMember dispatches on the lookahead token to one of the member forms
// listed in spec.md §6. Every case consumes its own trailing ';'; a union
// block ends at its '}', and a ';' right after that brace is consumed too.
func (p *Parser) parseMember(doc string, inline *[]*StructDecl) (Member, error) {
	start := p.cur.Rg
	switch {
	case p.isKeyword("eos"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &EosMember{base{Doc: doc, Rg: start}}, p.expectPunct(";")
	case p.isKeyword("fail"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &FailMember{base{Doc: doc, Rg: start}}, p.expectPunct(";")
	case p.isKeyword("ignore"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &IgnoreMember{base{Doc: doc, Rg: start}}, p.expectPunct(";")
	case p.isKeyword("nulterm"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &StringMember{base{Doc: doc, Rg: start}, name}, p.expectPunct(";")
	case p.isPunct("@"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectIdent2("ptr"); err != nil {
			return nil, err
		}
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &PositionMember{base{Doc: doc, Rg: start}, name}, p.expectPunct(";")
	case p.isKeyword("union"):
		return p.parseUnion(doc, start, inline)
	case p.isKeyword("struct"):
		return p.parseInlineOrNamedStructMember(doc, start, inline)
	default:
		return p.parseTypedMember(doc, start)
	}
}

func (p *Parser) expectIdent2(literal string) error {
	if (p.cur.Kind != TokIdent && p.cur.Kind != TokKeyword) || p.cur.Text != literal {
		return p.errf("expected %q, got %q", literal, p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) parseInlineOrNamedStructMember(doc string, start Range, inline *[]*StructDecl) (Member, error) {
	if err := p.advance(); err != nil { // consume 'struct'
		return nil, err
	}
	if p.isPunct("{") {
		// Inline struct declaration lifted to file scope (spec.md §9).
		genName := fmt.Sprintf("inline_%d", start.Start)
		var nestedInline []*StructDecl
		members, err := p.parseMemberBlock(&nestedInline)
		if err != nil {
			return nil, err
		}
		decl := &StructDecl{Name: genName, Members: members, Rg: start}
		*inline = append(*inline, decl)
		*inline = append(*inline, nestedInline...)
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &StructMember{base: base{Doc: doc, Rg: start}, TypeName: genName, MemberName: name}, nil
	}
	typeName, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &StructMember{base: base{Doc: doc, Rg: start}, TypeName: typeName, MemberName: name}, nil
}

// parseElemType parses an element/base type: one of u8/u16/u32/u64, the
// "char" pseudo-type, or a struct name.
func (p *Parser) parseElemType() (ElemKind, int, string, error) {
	if p.cur.Kind == TokKeyword && p.cur.Text == "char" {
		if err := p.advance(); err != nil {
			return 0, 0, "", err
		}
		return ElemChar, 0, "", nil
	}
	if p.cur.Kind == TokIdent && len(p.cur.Text) > 1 && p.cur.Text[0] == 'u' && isAllDigits(p.cur.Text[1:]) {
		width := 0
		for _, c := range p.cur.Text[1:] {
			width = width*10 + int(c-'0')
		}
		if !validIntWidth(width) {
			return 0, 0, "", p.errf("invalid integer width %q", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return 0, 0, "", err
		}
		return ElemInt, width, "", nil
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return 0, 0, "", err
	}
	return ElemStruct, 0, name, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !isDigit(c) {
			return false
		}
	}
	return true
}

// parseTypedMember handles: integer (with optional IN constraint), fixed
// array, var array (field-ref, context-qualified, remainder, and leftover
// shorthand forms).
func (p *Parser) parseTypedMember(doc string, start Range) (Member, error) {
	kind, width, typeName, err := p.parseElemType()
	if err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if kind == ElemInt && !p.isPunct("[") {
		// Plain integer member, optionally with an IN constraint.
		var constraint *IntConstraint
		if p.isKeyword("IN") {
			constraint, err = p.parseIntConstraint()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &IntegerMember{base: base{Doc: doc, Rg: start}, Width: width, MemberName: name, Constraint: constraint}, nil
	}

	if err := p.expectPunct("["); err != nil {
		return nil, err
	}

	// Leftover-bytes shorthand: T field[..-K];  desugars to a
	// LenConstrained wrapping a remainder VarArray (spec.md §6 grammar).
	if p.isPunct("..") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("-"); err != nil {
			return nil, err
		}
		k, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		inner := &VarArrayMember{
			base:       base{Doc: doc, Rg: start},
			Elem:       kind,
			ElemWidth:  width,
			MemberName: name,
		}
		return &LenConstrainedMember{base: base{Rg: start}, Leftover: &k, Members: []Member{inner}}, nil
	}

	if p.isPunct("]") {
		// Remainder form: T field[];
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &VarArrayMember{base: base{Doc: doc, Rg: start}, Elem: kind, ElemWidth: width, ElemTypeName: typeName, MemberName: name}, nil
	}

	if p.cur.Kind == TokInt {
		// Fixed array with a literal width.
		n := p.cur.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &FixedArrayMember{base: base{Doc: doc, Rg: start}, Elem: kind, ElemWidth: width, ElemTypeName: typeName, MemberName: name, Width: n}, nil
	}

	// Either a fixed array sized by a constant name, or a var array sized
	// by an earlier integer field (optionally ctx-qualified). Both start
	// with an identifier; only the Checker can tell them apart, since that
	// requires the name table and the per-struct integer-field map. We
	// record both possibilities and let the Checker pick by whether the
	// name denotes a ConstDecl or a field.
	ref, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.isPunct(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		field, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ref = ref + "." + field
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	// Whether `ref` denotes a constant (fixed array) or an earlier field
	// (var array) can't be decided here: it needs the name table and the
	// per-struct field map the Checker builds. We always produce a
	// VarArrayMember; the Checker's checkVarArray rewrites it to a
	// FixedArrayMember when `ref` turns out to name a constant.
	ctxName, fieldName, qualified := fieldRef(ref)
	return &VarArrayMember{
		base:          base{Doc: doc, Rg: start},
		Elem:          kind,
		ElemWidth:     width,
		ElemTypeName:  typeName,
		MemberName:    name,
		HasWidthField: true,
		WidthField:    ref,
		IsContextRef:  qualified,
		ContextName:   ctxName,
		FieldName:     fieldName,
	}, nil
}

func (p *Parser) parseIntConstraint() (*IntConstraint, error) {
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	c := &IntConstraint{}
	for {
		lo, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		hi := lo
		if p.isPunct("..") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			hi, err = p.expectInt()
			if err != nil {
				return nil, err
			}
		}
		c.Ranges = append(c.Ranges, IntRange{Lo: uint64(lo), Hi: uint64(hi)})
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return c, p.expectPunct("]")
}

func (p *Parser) parseUnion(doc string, start Range, inline *[]*StructDecl) (Member, error) {
	if err := p.expectKeyword("union"); err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	tagField, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}

	var (
		lengthField string
		leftover    *int64
		hasLength   bool
	)
	if p.isKeyword("with") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectIdent2("length"); err != nil {
			return nil, err
		}
		hasLength = true
		if p.isPunct("..") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectPunct("-"); err != nil {
				return nil, err
			}
			k, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			leftover = &k
		} else {
			lengthField, _, err = p.expectIdent()
			if err != nil {
				return nil, err
			}
		}
	}

	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var cases []*UnionCase
	for !p.isPunct("}") {
		c, err := p.parseUnionCase(name, inline)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	if p.isPunct(";") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	u := &UnionMember{base: base{Doc: doc, Rg: start}, MemberName: name, TagField: tagField, Cases: cases}
	if !hasLength {
		return u, nil
	}
	return &LenConstrainedMember{base: base{Rg: start}, LengthField: lengthField, Leftover: leftover, Members: []Member{u}}, nil
}

func (p *Parser) parseUnionCase(unionName string, inline *[]*StructDecl) (*UnionCase, error) {
	start := p.cur.Rg
	c := &UnionCase{Rg: start}
	if p.isKeyword("default") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		c.IsDefault = true
	} else {
		for {
			lo, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			hi := lo
			if p.isPunct("..") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				hi, err = p.expectInt()
				if err != nil {
					return nil, err
				}
			}
			c.Ranges = append(c.Ranges, IntRange{Lo: uint64(lo), Hi: uint64(hi)})
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	var members []Member
	for !p.atUnionCaseBoundary() {
		doc := p.lex.TakeDoc()
		m, err := p.parseMember(doc, inline)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	c.Members = members
	return c, nil
}

// atUnionCaseBoundary reports whether the parser has reached the closing
// brace of the enclosing union, or the tag label of the next case (an
// integer literal or "default"), i.e. the boundary the union grammar uses
// in place of an explicit per-case terminator.
func (p *Parser) atUnionCaseBoundary() bool {
	return p.isPunct("}") || p.cur.Kind == TokInt || p.isKeyword("default")
}
