package trunnel

import "fmt"

// cIntType returns the C unsigned integer type name for a given width, as
// used throughout header and module emission.
func cIntType(width int) string {
	switch width {
	case 8:
		return "uint8_t"
	case 16:
		return "uint16_t"
	case 32:
		return "uint32_t"
	case 64:
		return "uint64_t"
	default:
		return fmt.Sprintf("uint%d_t /* invalid width */", width)
	}
}

// cStructType returns the typedef name trunnel emits for struct layouts.
func cStructType(name string) string {
	return name + "_t"
}

// cFieldType returns the C field type for a member, per the table in
// spec.md §4.4. Only variants that contribute a layout field are handled;
// assertions/position markers are handled by their own emit paths.
func cFieldType(m Member) string {
	switch mm := m.(type) {
	case *IntegerMember:
		return cIntType(mm.Width)
	case *StructMember:
		return "struct " + cStructType(mm.TypeName) + " *"
	case *StringMember:
		return "char *"
	case *FixedArrayMember:
		switch mm.Elem {
		case ElemChar:
			return "char"
		case ElemInt:
			return cIntType(mm.ElemWidth)
		case ElemStruct:
			return "struct " + cStructType(mm.ElemTypeName) + " *"
		}
	case *VarArrayMember:
		switch mm.Elem {
		case ElemChar:
			return "trunnel_string_t"
		case ElemInt:
			return fmt.Sprintf("TRUNNEL_DYNARRAY_HEAD(%s)", cIntType(mm.ElemWidth))
		case ElemStruct:
			return fmt.Sprintf("TRUNNEL_DYNARRAY_HEAD(struct %s *)", cStructType(mm.ElemTypeName))
		}
	case *PositionMember:
		return "const uint8_t *"
	}
	return ""
}
