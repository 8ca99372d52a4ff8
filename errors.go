package trunnel

import "fmt"

// SchemaError is thrown by the Checker (and, incidentally, the Parser)
// whenever a schema cannot be compiled. It terminates the whole
// compilation; there is no recovery (spec.md §4.1 "Failure semantics",
// §7 taxon 1).
type SchemaError struct {
	Message string
	Struct  string // offending struct, if any
	Member  string // offending member, if any
	Rg      Range
}

func (e *SchemaError) Error() string {
	where := e.Struct
	if e.Member != "" {
		where = fmt.Sprintf("%s.%s", e.Struct, e.Member)
	}
	if where == "" {
		return fmt.Sprintf("%s @ %s", e.Message, e.Rg)
	}
	return fmt.Sprintf("%s: %s @ %s", where, e.Message, e.Rg)
}

func newSchemaError(rg Range, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...), Rg: rg}
}

func (e *SchemaError) withStruct(name string) *SchemaError {
	e.Struct = name
	return e
}

func (e *SchemaError) withMember(name string) *SchemaError {
	e.Member = name
	return e
}
