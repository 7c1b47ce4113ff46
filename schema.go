// Declarative per-field type descriptors and value validation.
//
// A Schema is a closed set of FieldDescriptors in column order plus a
// lookup-by-name map built once at construction. Descriptors are matched
// exhaustively on the FieldType tag; there is no dynamic field access.
package tabfile

import (
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// FieldType tags a FieldDescriptor. The string form is what the schema
// side-table stores; Normalized lowers it to a stable small-integer tag.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeChar     FieldType = "char"
	TypeString   FieldType = "string"
	TypeVarchar  FieldType = "varchar"
	TypeInt      FieldType = "int"
	TypeDecimal  FieldType = "decimal"
	TypeBool     FieldType = "bool"
	TypeNull     FieldType = "null"
	TypeJSON     FieldType = "json"
	TypeEnum     FieldType = "enum"
	TypeArray    FieldType = "array"
	TypeDatetime FieldType = "datetime"
)

// typeTags maps every FieldType to its normalized tag. The values are part
// of the descriptor contract and must never be renumbered.
var typeTags = map[FieldType]int{
	TypeText:     1,
	TypeChar:     2,
	TypeString:   3,
	TypeVarchar:  4,
	TypeInt:      5,
	TypeDecimal:  6,
	TypeBool:     7,
	TypeNull:     8,
	TypeJSON:     9,
	TypeEnum:     10,
	TypeArray:    11,
	TypeDatetime: 12,
}

// Auto-injected datetime columns.
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// FieldDescriptor declares one column: its type tag plus the constraints
// that apply to that type. Unused constraint fields stay at their zero
// value and are omitted from the schema side-table.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`

	// Text kinds.
	MinLength int `json:"minLength,omitempty"`
	MaxLength int `json:"maxLength,omitempty"`

	// Numeric kinds.
	Unsigned  bool     `json:"unsigned,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Precision int      `json:"precision,omitempty"`

	// Enum.
	Members []string `json:"members,omitempty"`

	// Array: member descriptor and optional capacity.
	Items  *FieldDescriptor `json:"items,omitempty"`
	Length int              `json:"length,omitempty"`
}

// NormalizedDescriptor is a FieldDescriptor with the type tag lowered to
// its small-integer form, recursively for array members.
type NormalizedDescriptor struct {
	Name     string
	Type     int
	Nullable bool

	MinLength int
	MaxLength int

	Unsigned  bool
	Min       *float64
	Max       *float64
	Precision int

	Members []string

	Items  *NormalizedDescriptor
	Length int
}

// SchemaOptions configures schema construction.
type SchemaOptions struct {
	// NoTimestamps disables auto-injection of the created_at/updated_at
	// datetime columns.
	NoTimestamps bool
}

// Schema is a validated, ordered set of field descriptors.
type Schema struct {
	fields []FieldDescriptor
	byName map[string]int
}

// NewSchema validates the descriptors and builds the schema. Unless
// disabled, non-nullable created_at/updated_at datetime columns are
// appended when absent. Column order is the declaration order and fixes
// the on-disk arity.
func NewSchema(fields []FieldDescriptor, opts SchemaOptions) (*Schema, error) {
	s := &Schema{byName: make(map[string]int, len(fields)+2)}
	for _, fd := range fields {
		if err := validateDescriptor(&fd, false); err != nil {
			return nil, err
		}
		if _, dup := s.byName[fd.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidArgument, fd.Name)
		}
		s.byName[fd.Name] = len(s.fields)
		s.fields = append(s.fields, fd)
	}

	if !opts.NoTimestamps {
		for _, name := range []string{FieldCreatedAt, FieldUpdatedAt} {
			if _, ok := s.byName[name]; ok {
				continue
			}
			s.byName[name] = len(s.fields)
			s.fields = append(s.fields, FieldDescriptor{Name: name, Type: TypeDatetime})
		}
	}

	if len(s.fields) == 0 {
		return nil, fmt.Errorf("%w: schema has no fields", ErrInvalidArgument)
	}
	return s, nil
}

// validateDescriptor checks one descriptor. nested is true when validating
// an array's member descriptor, where a further array is rejected.
func validateDescriptor(fd *FieldDescriptor, nested bool) error {
	if fd.Name == "" && !nested {
		return fmt.Errorf("%w: field with empty name", ErrInvalidArgument)
	}
	if _, ok := typeTags[fd.Type]; !ok {
		return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidType, fd.Name, fd.Type)
	}
	switch fd.Type {
	case TypeVarchar:
		if fd.MaxLength <= 0 {
			return fmt.Errorf("%w: varchar field %q needs maxLength", ErrInvalidArgument, fd.Name)
		}
	case TypeEnum:
		if len(fd.Members) == 0 {
			return fmt.Errorf("%w: enum field %q has no members", ErrInvalidArgument, fd.Name)
		}
	case TypeArray:
		if nested {
			return fmt.Errorf("%w: nested arrays are not supported", ErrInvalidType)
		}
		if fd.Items == nil {
			return fmt.Errorf("%w: array field %q has no member descriptor", ErrInvalidArgument, fd.Name)
		}
		if fd.Items.Type == TypeArray {
			return fmt.Errorf("%w: nested arrays are not supported", ErrInvalidType)
		}
		if err := validateDescriptor(fd.Items, true); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the descriptors in column order.
func (s *Schema) Fields() []FieldDescriptor {
	return s.fields
}

// Arity returns the number of columns.
func (s *Schema) Arity() int {
	return len(s.fields)
}

// Equal reports whether both schemas declare the same columns in the same
// order with the same constraints.
func (s *Schema) Equal(other *Schema) bool {
	return reflect.DeepEqual(s.fields, other.fields)
}

// Describe returns the descriptor for a field name.
func (s *Schema) Describe(name string) (FieldDescriptor, error) {
	i, ok := s.byName[name]
	if !ok {
		return FieldDescriptor{}, fmt.Errorf("%w: unknown field %q", ErrInvalidArgument, name)
	}
	return s.fields[i], nil
}

// DescribeNormalized returns the descriptor with its type tag (and the
// array member's, recursively) lowered to the stable integer form.
func (s *Schema) DescribeNormalized(name string) (NormalizedDescriptor, error) {
	fd, err := s.Describe(name)
	if err != nil {
		return NormalizedDescriptor{}, err
	}
	return normalize(&fd), nil
}

func normalize(fd *FieldDescriptor) NormalizedDescriptor {
	nd := NormalizedDescriptor{
		Name:      fd.Name,
		Type:      typeTags[fd.Type],
		Nullable:  fd.Nullable,
		MinLength: fd.MinLength,
		MaxLength: fd.MaxLength,
		Unsigned:  fd.Unsigned,
		Min:       fd.Min,
		Max:       fd.Max,
		Precision: fd.Precision,
		Members:   fd.Members,
		Length:    fd.Length,
	}
	if fd.Items != nil {
		items := normalize(fd.Items)
		nd.Items = &items
	}
	return nd
}

// checkValue validates v against fd and returns its canonical in-memory
// form: int64, float64, string, bool, time.Time, []any, or any JSON value.
// Wrong Go type surfaces as ErrInvalidType, constraint violations as
// ErrInvalidArgument, array capacity overruns as ErrOutOfBounds.
func checkValue(fd *FieldDescriptor, v any) (any, error) {
	if v == nil {
		if fd.Nullable || fd.Type == TypeNull {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: field %q is not nullable", ErrInvalidArgument, fd.Name)
	}

	switch fd.Type {
	case TypeText, TypeChar, TypeString, TypeVarchar:
		return checkText(fd, v)
	case TypeInt:
		return checkInt(fd, v)
	case TypeDecimal:
		return checkDecimal(fd, v)
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants bool, got %T", ErrInvalidType, fd.Name, v)
		}
		return b, nil
	case TypeDatetime:
		return checkDatetime(fd, v)
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: enum field %q wants string, got %T", ErrInvalidType, fd.Name, v)
		}
		for _, m := range fd.Members {
			if s == m {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a member of enum field %q", ErrInvalidArgument, s, fd.Name)
	case TypeJSON:
		// Structural check only: the value must survive serialisation.
		if _, err := json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidType, fd.Name, err)
		}
		return v, nil
	case TypeArray:
		return checkArray(fd, v)
	case TypeNull:
		return nil, fmt.Errorf("%w: null field %q only accepts nil", ErrInvalidType, fd.Name)
	}
	return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidType, fd.Name, fd.Type)
}

func checkText(fd *FieldDescriptor, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q wants string, got %T", ErrInvalidType, fd.Name, v)
	}
	n := utf8.RuneCountInString(s)
	if fd.Type == TypeChar && n != 1 {
		return nil, fmt.Errorf("%w: char field %q wants exactly one character", ErrInvalidArgument, fd.Name)
	}
	if fd.MinLength > 0 && n < fd.MinLength {
		return nil, fmt.Errorf("%w: field %q shorter than %d", ErrInvalidArgument, fd.Name, fd.MinLength)
	}
	if fd.MaxLength > 0 && n > fd.MaxLength {
		return nil, fmt.Errorf("%w: field %q longer than %d", ErrInvalidArgument, fd.Name, fd.MaxLength)
	}
	return s, nil
}

func checkInt(fd *FieldDescriptor, v any) (any, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case float64:
		// JSON decoders hand integers over as float64.
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("%w: field %q wants an integral value, got %v", ErrInvalidArgument, fd.Name, x)
		}
		n = int64(x)
	default:
		return nil, fmt.Errorf("%w: field %q wants integer, got %T", ErrInvalidType, fd.Name, v)
	}
	if fd.Unsigned && n < 0 {
		return nil, fmt.Errorf("%w: unsigned field %q got %d", ErrInvalidArgument, fd.Name, n)
	}
	if fd.Min != nil && float64(n) < *fd.Min {
		return nil, fmt.Errorf("%w: field %q below minimum %v", ErrInvalidArgument, fd.Name, *fd.Min)
	}
	if fd.Max != nil && float64(n) > *fd.Max {
		return nil, fmt.Errorf("%w: field %q above maximum %v", ErrInvalidArgument, fd.Name, *fd.Max)
	}
	return n, nil
}

func checkDecimal(fd *FieldDescriptor, v any) (any, error) {
	var x float64
	switch f := v.(type) {
	case float32:
		x = float64(f)
	case float64:
		x = f
	default:
		return nil, fmt.Errorf("%w: field %q wants decimal, got %T", ErrInvalidType, fd.Name, v)
	}
	// A decimal must carry a fractional part; integral values belong in an
	// integer column.
	if x == math.Trunc(x) && !math.IsInf(x, 0) {
		return nil, fmt.Errorf("%w: field %q wants a non-integral decimal, got %v", ErrInvalidArgument, fd.Name, x)
	}
	if fd.Min != nil && x < *fd.Min {
		return nil, fmt.Errorf("%w: field %q below minimum %v", ErrInvalidArgument, fd.Name, *fd.Min)
	}
	if fd.Max != nil && x > *fd.Max {
		return nil, fmt.Errorf("%w: field %q above maximum %v", ErrInvalidArgument, fd.Name, *fd.Max)
	}
	return x, nil
}

func checkDatetime(fd *FieldDescriptor, v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateTime, time.DateOnly} {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("%w: field %q: unparseable datetime %q", ErrInvalidArgument, fd.Name, x)
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%w: field %q: fractional unix timestamp", ErrInvalidArgument, fd.Name)
		}
		return time.UnixMilli(int64(x)).UTC(), nil
	default:
		return nil, fmt.Errorf("%w: field %q wants datetime, got %T", ErrInvalidType, fd.Name, v)
	}
}

func checkArray(fd *FieldDescriptor, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q wants array, got %T", ErrInvalidType, fd.Name, v)
	}
	if fd.Length > 0 && len(items) > fd.Length {
		return nil, fmt.Errorf("%w: field %q holds at most %d elements, got %d", ErrOutOfBounds, fd.Name, fd.Length, len(items))
	}
	out := make([]any, len(items))
	for i, item := range items {
		if _, isArray := item.([]any); isArray {
			return nil, fmt.Errorf("%w: nested arrays are not supported", ErrInvalidType)
		}
		member := *fd.Items
		member.Name = fmt.Sprintf("%s[%d]", fd.Name, i)
		checked, err := checkValue(&member, item)
		if err != nil {
			return nil, err
		}
		out[i] = checked
	}
	return out, nil
}
