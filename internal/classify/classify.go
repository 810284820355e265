// Package classify splits field differences into regular and important
// groups according to a per-kind table of important field names.
//
// Important fields get bespoke handling downstream (tag add/remove, owner
// resolution, field events). Everything else is folded into a single
// generic update.
package classify

import (
	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/payload"
)

// FieldSet is a set of top-level payload field names.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set members in canonical order.
func (s FieldSet) Names() []string {
	o := make(payload.Object, len(s))
	for k := range s {
		o[k] = nil
	}
	return o.SortedKeys()
}

// Table maps an entity kind to its important fields. A kind with no entry
// has no important fields.
type Table map[payload.Kind]FieldSet

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, fs := range t {
		cp := make(FieldSet, len(fs))
		for n := range fs {
			cp[n] = struct{}{}
		}
		out[k] = cp
	}
	return out
}

// Default returns a fresh copy of the built-in table.
func Default() Table {
	return Table{
		payload.KindContact: NewFieldSet("name", "tags", "alias", "phone", "description", "corporation"),
		payload.KindRoom:    NewFieldSet("topic", "memberIdList", "ownerId"),
	}
}

// Partition is the result of classifying a diff.
type Partition struct {
	Regular   []diff.FieldDifference
	Important []diff.FieldDifference
}

// Empty reports whether there are no differences at all.
func (p Partition) Empty() bool {
	return len(p.Regular) == 0 && len(p.Important) == 0
}

// Classifier partitions differences using a fixed table.
type Classifier struct {
	table Table
}

// New returns a Classifier over a copy of table. A nil table means Default.
func New(table Table) *Classifier {
	if table == nil {
		table = Default()
	}
	return &Classifier{table: table.Clone()}
}

// IsImportant reports whether field is important for kind.
func (c *Classifier) IsImportant(kind payload.Kind, field string) bool {
	return c.table[kind].Has(field)
}

// Fields returns the important fields for kind.
func (c *Classifier) Fields(kind payload.Kind) FieldSet {
	return c.table[kind]
}

// Classify partitions diffs for kind. Every difference lands in exactly one
// group and relative order is preserved within each group.
func (c *Classifier) Classify(kind payload.Kind, diffs []diff.FieldDifference) Partition {
	var p Partition
	for _, d := range diffs {
		if c.IsImportant(kind, d.Key) {
			p.Important = append(p.Important, d)
		} else {
			p.Regular = append(p.Regular, d)
		}
	}
	return p
}

var defaultClassifier = New(nil)

// Classify partitions diffs using the default table.
func Classify(kind payload.Kind, diffs []diff.FieldDifference) Partition {
	return defaultClassifier.Classify(kind, diffs)
}
