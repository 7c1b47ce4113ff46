// Stored-form conversion: typed runtime values to and from the textual
// representation persisted inside a row payload.
//
// A row payload is a JSON array with one element per column; each element
// is either null or the column's stored string. storeValue and reviveValue
// are exact inverses per descriptor, which is what makes the
// write-close-reopen-read round trip hold.
package tabfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Stored boolean literals.
const (
	storedTrue  = "[TRUE]"
	storedFalse = "[FALSE]"
)

// storeValue lowers a canonical value (the output of checkValue) to its
// stored form: nil, or a string.
func storeValue(fd *FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch fd.Type {
	case TypeText, TypeChar, TypeString, TypeVarchar, TypeEnum:
		return v.(string), nil
	case TypeBool:
		if v.(bool) {
			return storedTrue, nil
		}
		return storedFalse, nil
	case TypeInt:
		return strconv.FormatInt(v.(int64), 10), nil
	case TypeDecimal:
		return strconv.FormatFloat(v.(float64), 'g', -1, 64), nil
	case TypeDatetime:
		return v.(time.Time).Format(time.RFC3339Nano), nil
	case TypeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidType, fd.Name, err)
		}
		return string(data), nil
	case TypeArray:
		items := v.([]any)
		stored := make([]any, len(items))
		for i, item := range items {
			s, err := storeValue(fd.Items, item)
			if err != nil {
				return nil, err
			}
			stored[i] = s
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidType, fd.Name, err)
		}
		return string(data), nil
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidType, fd.Name, fd.Type)
}

// reviveValue converts a stored element back into its typed runtime value
// per the column descriptor.
func reviveValue(fd *FieldDescriptor, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	s, ok := stored.(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q: stored value is %T, want string", ErrCorruptRow, fd.Name, stored)
	}

	switch fd.Type {
	case TypeText, TypeChar, TypeString, TypeVarchar, TypeEnum:
		return s, nil
	case TypeBool:
		return s == storedTrue, nil
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %q is not an integer", ErrCorruptRow, fd.Name, s)
		}
		return n, nil
	case TypeDecimal:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %q is not a decimal", ErrCorruptRow, fd.Name, s)
		}
		return x, nil
	case TypeDatetime:
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		// Unix-millisecond fallback for rows written by other producers.
		if isDigits(s) {
			ms, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				return time.UnixMilli(ms).UTC(), nil
			}
		}
		return nil, fmt.Errorf("%w: field %q: %q is not a datetime", ErrCorruptRow, fd.Name, s)
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrCorruptRow, fd.Name, err)
		}
		return v, nil
	case TypeArray:
		var elems []any
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrCorruptRow, fd.Name, err)
		}
		out := make([]any, len(elems))
		for i, item := range elems {
			v, err := reviveValue(fd.Items, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidType, fd.Name, fd.Type)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
