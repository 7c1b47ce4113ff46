// Row: an ordered mapping from field name to typed value.
//
// Backed by the red-black tree so field lookup is O(log n) and iteration
// yields fields in name order. Rows are values owned by whoever holds
// them; the cache stores its own references and nothing points back.
package tabfile

import (
	"iter"
	"strings"
)

// Field is one named value inside a Row.
type Field struct {
	Name  string
	Value any
}

// Row holds the typed values of one table row.
type Row struct {
	tree *RBTree[Field]
	size int64 // on-disk payload bytes, 0 until flushed or read
}

// NewRow creates an empty row.
func NewRow() *Row {
	return &Row{tree: NewRBTree(func(a, b Field) int {
		return strings.Compare(a.Name, b.Name)
	})}
}

// Set stores a value under a field name, replacing any previous value.
func (r *Row) Set(name string, v any) {
	r.tree.Upsert(Field{Name: name, Value: v})
}

// Get returns the value stored under a field name.
func (r *Row) Get(name string) (any, bool) {
	f, ok := r.tree.Lookup(Field{Name: name})
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// Len returns the number of fields.
func (r *Row) Len() int {
	return r.tree.Len()
}

// Fields iterates the row's fields in name order.
func (r *Row) Fields() iter.Seq[Field] {
	return r.tree.All()
}
