package tabfile

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

// Store and revive are exact inverses per descriptor; this is what the
// write-close-reopen-read round trip rests on.
func TestStoreReviveRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		fd   FieldDescriptor
		v    any
	}{
		{"text", FieldDescriptor{Name: "f", Type: TypeText}, "Ada"},
		{"bool true", FieldDescriptor{Name: "f", Type: TypeBool}, true},
		{"bool false", FieldDescriptor{Name: "f", Type: TypeBool}, false},
		{"int", FieldDescriptor{Name: "f", Type: TypeInt}, int64(30)},
		{"int negative", FieldDescriptor{Name: "f", Type: TypeInt}, int64(-7)},
		{"decimal", FieldDescriptor{Name: "f", Type: TypeDecimal}, 3.25},
		{"datetime", FieldDescriptor{Name: "f", Type: TypeDatetime}, ts},
		{"enum", FieldDescriptor{Name: "f", Type: TypeEnum, Members: []string{"a", "b"}}, "b"},
		{"array of int", FieldDescriptor{Name: "f", Type: TypeArray, Items: &FieldDescriptor{Type: TypeInt}}, []any{int64(1), int64(2)}},
		{"json", FieldDescriptor{Name: "f", Type: TypeJSON}, map[string]any{"k": "v"}},
		{"nil", FieldDescriptor{Name: "f", Type: TypeText, Nullable: true}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored, err := storeValue(&tc.fd, tc.v)
			if err != nil {
				t.Fatalf("store error: %v", err)
			}
			got, err := reviveValue(&tc.fd, stored)
			if err != nil {
				t.Fatalf("revive error: %v", err)
			}
			if tsGot, ok := got.(time.Time); ok {
				if !tsGot.Equal(tc.v.(time.Time)) {
					t.Fatalf("revive = %v, want %v", tsGot, tc.v)
				}
				return
			}
			if !reflect.DeepEqual(got, tc.v) {
				t.Fatalf("revive = %#v, want %#v", got, tc.v)
			}
		})
	}
}

func TestStoredBoolLiteral(t *testing.T) {
	fd := FieldDescriptor{Name: "b", Type: TypeBool}
	stored, err := storeValue(&fd, true)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	if stored != "[TRUE]" {
		t.Fatalf("stored bool = %q, want %q", stored, "[TRUE]")
	}
	v, err := reviveValue(&fd, "[FALSE]")
	if err != nil || v != false {
		t.Fatalf("revive([FALSE]) = %v, %v", v, err)
	}
	// Anything but the true literal revives as false.
	v, _ = reviveValue(&fd, "yes")
	if v != false {
		t.Fatalf("revive(yes) = %v, want false", v)
	}
}

func TestReviveRejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		fd     FieldDescriptor
		stored string
	}{
		{"int garbage", FieldDescriptor{Name: "f", Type: TypeInt}, "thirty"},
		{"decimal garbage", FieldDescriptor{Name: "f", Type: TypeDecimal}, "pi"},
		{"datetime garbage", FieldDescriptor{Name: "f", Type: TypeDatetime}, "yesterday"},
		{"json garbage", FieldDescriptor{Name: "f", Type: TypeJSON}, "{"},
		{"array wrong shape", FieldDescriptor{Name: "f", Type: TypeArray, Items: &FieldDescriptor{Type: TypeInt}}, `{"not":"array"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := reviveValue(&tc.fd, tc.stored); !errors.Is(err, ErrCorruptRow) {
				t.Fatalf("revive error = %v, want ErrCorruptRow", err)
			}
		})
	}
}

func TestReviveUnixMilliFallback(t *testing.T) {
	fd := FieldDescriptor{Name: "ts", Type: TypeDatetime}
	v, err := reviveValue(&fd, "1756000000000")
	if err != nil {
		t.Fatalf("revive error: %v", err)
	}
	got, ok := v.(time.Time)
	if !ok || got.UnixMilli() != 1756000000000 {
		t.Fatalf("revive = %#v, want unix-ms timestamp", v)
	}
}
