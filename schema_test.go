package tabfile

import (
	"errors"
	"testing"
	"time"
)

func TestNewSchemaInjectsTimestamps(t *testing.T) {
	s, err := NewSchema(testSchemaFields(), SchemaOptions{})
	if err != nil {
		t.Fatalf("NewSchema error: %v", err)
	}
	if s.Arity() != 4 {
		t.Fatalf("Arity = %d, want 4 (two declared + two timestamps)", s.Arity())
	}
	for _, name := range []string{FieldCreatedAt, FieldUpdatedAt} {
		fd, err := s.Describe(name)
		if err != nil {
			t.Fatalf("Describe(%s) error: %v", name, err)
		}
		if fd.Type != TypeDatetime || fd.Nullable {
			t.Errorf("%s = %+v, want non-nullable datetime", name, fd)
		}
	}
}

func TestNewSchemaNoTimestamps(t *testing.T) {
	s, err := NewSchema(testSchemaFields(), SchemaOptions{NoTimestamps: true})
	if err != nil {
		t.Fatalf("NewSchema error: %v", err)
	}
	if s.Arity() != 2 {
		t.Fatalf("Arity = %d, want 2", s.Arity())
	}
}

func TestNewSchemaRejections(t *testing.T) {
	cases := []struct {
		name   string
		fields []FieldDescriptor
		want   error
	}{
		{"duplicate names", []FieldDescriptor{
			{Name: "a", Type: TypeText}, {Name: "a", Type: TypeInt},
		}, ErrInvalidArgument},
		{"unknown type", []FieldDescriptor{
			{Name: "a", Type: "blob"},
		}, ErrInvalidType},
		{"varchar without maxLength", []FieldDescriptor{
			{Name: "a", Type: TypeVarchar},
		}, ErrInvalidArgument},
		{"enum without members", []FieldDescriptor{
			{Name: "a", Type: TypeEnum},
		}, ErrInvalidArgument},
		{"array without items", []FieldDescriptor{
			{Name: "a", Type: TypeArray},
		}, ErrInvalidArgument},
		{"nested array", []FieldDescriptor{
			{Name: "a", Type: TypeArray, Items: &FieldDescriptor{Type: TypeArray, Items: &FieldDescriptor{Type: TypeInt}}},
		}, ErrInvalidType},
		{"empty name", []FieldDescriptor{
			{Name: "", Type: TypeText},
		}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSchema(tc.fields, SchemaOptions{}); !errors.Is(err, tc.want) {
				t.Fatalf("NewSchema error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDescribeUnknownField(t *testing.T) {
	s, _ := NewSchema(testSchemaFields(), SchemaOptions{})
	if _, err := s.Describe("missing"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Describe error = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.DescribeNormalized("missing"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("DescribeNormalized error = %v, want ErrInvalidArgument", err)
	}
}

func TestDescribeNormalizedTags(t *testing.T) {
	fields := []FieldDescriptor{
		{Name: "name", Type: TypeText},
		{Name: "scores", Type: TypeArray, Items: &FieldDescriptor{Type: TypeInt}, Length: 4},
	}
	s, err := NewSchema(fields, SchemaOptions{NoTimestamps: true})
	if err != nil {
		t.Fatalf("NewSchema error: %v", err)
	}

	nd, err := s.DescribeNormalized("name")
	if err != nil {
		t.Fatalf("DescribeNormalized error: %v", err)
	}
	if nd.Type != 1 {
		t.Errorf("text tag = %d, want 1", nd.Type)
	}

	nd, err = s.DescribeNormalized("scores")
	if err != nil {
		t.Fatalf("DescribeNormalized error: %v", err)
	}
	if nd.Type != 11 {
		t.Errorf("array tag = %d, want 11", nd.Type)
	}
	if nd.Items == nil || nd.Items.Type != 5 {
		t.Errorf("array item tag = %+v, want 5", nd.Items)
	}
}

func TestCheckValue(t *testing.T) {
	minAge, maxAge := 0.0, 150.0
	cases := []struct {
		name string
		fd   FieldDescriptor
		in   any
		want error // nil means accept
	}{
		{"int ok", FieldDescriptor{Name: "a", Type: TypeInt}, 30, nil},
		{"int from json float", FieldDescriptor{Name: "a", Type: TypeInt}, 30.0, nil},
		{"int fractional", FieldDescriptor{Name: "a", Type: TypeInt}, 30.5, ErrInvalidArgument},
		{"int wrong type", FieldDescriptor{Name: "a", Type: TypeInt}, "30", ErrInvalidType},
		{"int unsigned negative", FieldDescriptor{Name: "a", Type: TypeInt, Unsigned: true}, -1, ErrInvalidArgument},
		{"int below min", FieldDescriptor{Name: "a", Type: TypeInt, Min: &minAge}, -3, ErrInvalidArgument},
		{"int above max", FieldDescriptor{Name: "a", Type: TypeInt, Max: &maxAge}, 200, ErrInvalidArgument},

		{"decimal ok", FieldDescriptor{Name: "d", Type: TypeDecimal}, 10.5, nil},
		{"decimal integral rejected", FieldDescriptor{Name: "d", Type: TypeDecimal}, 10.0, ErrInvalidArgument},
		{"decimal wrong type", FieldDescriptor{Name: "d", Type: TypeDecimal}, "x", ErrInvalidType},

		{"text ok", FieldDescriptor{Name: "t", Type: TypeText}, "hello", nil},
		{"text too long", FieldDescriptor{Name: "t", Type: TypeText, MaxLength: 3}, "hello", ErrInvalidArgument},
		{"text too short", FieldDescriptor{Name: "t", Type: TypeText, MinLength: 3}, "hi", ErrInvalidArgument},
		{"char one rune", FieldDescriptor{Name: "c", Type: TypeChar}, "x", nil},
		{"char many runes", FieldDescriptor{Name: "c", Type: TypeChar}, "xy", ErrInvalidArgument},

		{"bool ok", FieldDescriptor{Name: "b", Type: TypeBool}, true, nil},
		{"bool strict", FieldDescriptor{Name: "b", Type: TypeBool}, 1, ErrInvalidType},

		{"datetime from time", FieldDescriptor{Name: "ts", Type: TypeDatetime}, time.Now(), nil},
		{"datetime from string", FieldDescriptor{Name: "ts", Type: TypeDatetime}, "2026-08-23T10:00:00Z", nil},
		{"datetime garbage", FieldDescriptor{Name: "ts", Type: TypeDatetime}, "not a date", ErrInvalidArgument},

		{"enum member", FieldDescriptor{Name: "e", Type: TypeEnum, Members: []string{"red", "blue"}}, "red", nil},
		{"enum outsider", FieldDescriptor{Name: "e", Type: TypeEnum, Members: []string{"red", "blue"}}, "green", ErrInvalidArgument},

		{"nil non-nullable", FieldDescriptor{Name: "n", Type: TypeText}, nil, ErrInvalidArgument},
		{"nil nullable", FieldDescriptor{Name: "n", Type: TypeText, Nullable: true}, nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := checkValue(&tc.fd, tc.in)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("checkValue error = %v, want accept", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("checkValue error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCheckValueArray(t *testing.T) {
	fd := FieldDescriptor{
		Name: "scores", Type: TypeArray, Length: 4,
		Items: &FieldDescriptor{Type: TypeInt},
	}

	if _, err := checkValue(&fd, []any{1, 2, 3, 4}); err != nil {
		t.Fatalf("full array rejected: %v", err)
	}

	// A fifth element on a length-4 array is an out-of-bounds violation.
	if _, err := checkValue(&fd, []any{1, 2, 3, 4, 5}); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("overflow error = %v, want ErrOutOfBounds", err)
	}

	if _, err := checkValue(&fd, []any{1, []any{2}}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("nested array error = %v, want ErrInvalidType", err)
	}

	if _, err := checkValue(&fd, []any{"one"}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("member type error = %v, want ErrInvalidType", err)
	}
}
