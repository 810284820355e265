// Package policy loads important-field overrides from CUE files.
//
// A policy starts from the built-in classification table (or an empty one)
// and promotes or demotes individual fields per entity kind:
//
//	base: "default"
//	important: contact: ["signature"]
//	regular: contact: ["description"]
//
// Files are validated against an embedded schema before they are decoded.
package policy

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/juzibot/wechaty/internal/classify"
	"github.com/juzibot/wechaty/internal/payload"
)

//go:embed schema.cue
var schemaSource string

// Base names the table a policy starts from.
type Base string

const (
	BaseDefault Base = "default"
	BaseEmpty   Base = "empty"
)

// Policy is a decoded and validated policy file.
type Policy struct {
	Base      Base
	Important map[payload.Kind][]string
	Regular   map[payload.Kind][]string
}

// Error is a policy validation failure with its source position when CUE
// reports one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type rawPolicy struct {
	Base      string              `json:"base"`
	Important map[string][]string `json:"important"`
	Regular   map[string][]string `json:"regular"`
}

// Load reads and compiles the policy file at path.
func Load(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Compile(path, src)
}

// Compile validates src against the policy schema and decodes it. filename
// is only used in error positions.
func Compile(filename string, src []byte) (*Policy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("policy schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Policy")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawPolicy
	if err := unified.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{
		Base:      Base(raw.Base),
		Important: make(map[payload.Kind][]string, len(raw.Important)),
		Regular:   make(map[payload.Kind][]string, len(raw.Regular)),
	}
	if err := decodeKinds("important", raw.Important, p.Important); err != nil {
		return nil, err
	}
	if err := decodeKinds("regular", raw.Regular, p.Regular); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeKinds(field string, in map[string][]string, out map[payload.Kind][]string) error {
	for name, fields := range in {
		kind, err := payload.ParseKind(name)
		if err != nil || !kind.Known() {
			return &Error{Field: field + "." + name, Message: "unknown payload kind"}
		}
		out[kind] = fields
	}
	return nil
}

// Table applies the policy to its base table. Demotions win over promotions
// of the same field.
func (p *Policy) Table() classify.Table {
	t := classify.Table{}
	if p.Base != BaseEmpty {
		t = classify.Default()
	}
	for kind, fields := range p.Important {
		set := t[kind]
		if set == nil {
			set = classify.FieldSet{}
			t[kind] = set
		}
		for _, f := range fields {
			set[f] = struct{}{}
		}
	}
	for kind, fields := range p.Regular {
		for _, f := range fields {
			delete(t[kind], f)
		}
	}
	return t
}

// Classifier returns a classifier over Table.
func (p *Policy) Classifier() *classify.Classifier {
	return classify.New(p.Table())
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: "cue", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
