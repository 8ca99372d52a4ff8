package trunnel

import (
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// CompileOptions carries the `trunnel options ...;` declarations plus the
// flags the CLI exposes (spec.md §4.4, §6).
type CompileOptions struct {
	// Opaque forward-declares struct layouts in the header instead of
	// exposing their fields (the `opaque` schema option).
	Opaque bool
	// VeryOpaque (the `very_opaque` schema option) forward-declares struct
	// layouts the same way Opaque does. Accessor prototypes are still
	// emitted in the header under either setting.
	VeryOpaque bool
}

// optionsFromFile merges the schema's own `trunnel options ...;` line with
// any options the caller forced via flags.
func optionsFromFile(f *File, base CompileOptions) CompileOptions {
	out := base
	if f.Options["opaque"] {
		out.Opaque = true
	}
	if f.Options["very_opaque"] {
		out.VeryOpaque = true
	}
	return out
}

// CompileResult holds the two generated files for one schema.
type CompileResult struct {
	HeaderName string
	Header     string
	ModuleName string
	Module     string
}

// Compile runs the full Lexer→Parser→Checker→Annotator→Emitter pipeline
// over src (spec.md §2 "System overview"). baseName is the schema's stem
// (e.g. "foo" for "foo.trunnel"), used to name the include guard and the
// generated files' #include line.
func Compile(baseName, src string, opts CompileOptions) (*CompileResult, error) {
	log.WithField("schema", baseName).Debug("parsing schema")
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	file, err := p.ParseFile()
	if err != nil {
		log.WithError(err).WithField("schema", baseName).Error("parse failed")
		return nil, err
	}

	log.WithField("schema", baseName).Debug("checking schema")
	checker := NewChecker(file)
	order, err := checker.Check()
	if err != nil {
		log.WithError(err).WithField("schema", baseName).Error("check failed")
		return nil, err
	}

	log.WithField("schema", baseName).
		WithField("structs", len(order)).
		Debug("annotating schema")
	NewAnnotator(file).Annotate(order)

	merged := optionsFromFile(file, opts)
	guard := strings.ToUpper(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, baseName))

	header := NewHeaderEmitter(file, merged).Emit(guard)
	module := NewModuleEmitter(file, merged).Emit(order, baseName)

	log.WithField("schema", baseName).Info("compiled successfully")
	return &CompileResult{
		HeaderName: baseName + ".h",
		Header:     header,
		ModuleName: baseName + ".c",
		Module:     module,
	}, nil
}

// BaseNameOf strips a schema path down to its filename stem, the name
// used for #include guards and generated filenames.
func BaseNameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Version identifies this compiler build, checked against --require-version.
const Version = "0.1.0"
