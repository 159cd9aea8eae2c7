// Package jsonpath extracts values from JSON documents using a small dotted
// path syntax such as "$.data.items[0].id".
package jsonpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ErrNotFound is returned when a path does not resolve to a value.
var ErrNotFound = errors.New("json path not found")

// PathError describes a path that could not be parsed or evaluated.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("json path %q: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Split converts a path into the key list understood by jsonparser.
//
// Accepted forms: "$", "$.a.b", "a.b", "a[0].b", "$['a b'].c", "[2]".
func Split(path string) ([]string, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var keys []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			keys = append(keys, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(p); i++ {
		c := p[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, &PathError{Path: path, Err: errors.New("unterminated bracket")}
			}
			inner := p[i+1 : i+end]
			i += end
			switch {
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				keys = append(keys, inner[1:len(inner)-1])
			default:
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return nil, &PathError{Path: path, Err: fmt.Errorf("invalid index %q", inner)}
				}
				keys = append(keys, "["+inner+"]")
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return keys, nil
}

// Get returns the raw bytes and type at path. String values are returned
// without their surrounding quotes, matching jsonparser.
func Get(data []byte, path string) ([]byte, jsonparser.ValueType, error) {
	keys, err := Split(path)
	if err != nil {
		return nil, jsonparser.NotExist, err
	}
	value, typ, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			return nil, jsonparser.NotExist, &PathError{Path: path, Err: ErrNotFound}
		}
		return nil, jsonparser.NotExist, &PathError{Path: path, Err: err}
	}
	return value, typ, nil
}

// Exists reports whether path resolves to any value, including null.
func Exists(data []byte, path string) bool {
	_, _, err := Get(data, path)
	return err == nil
}

// String returns the value at path as a string. Numbers and booleans are
// returned in their JSON text form; objects and arrays as raw JSON.
func String(data []byte, path string) (string, error) {
	value, typ, err := Get(data, path)
	if err != nil {
		return "", err
	}
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return "", &PathError{Path: path, Err: err}
		}
		return s, nil
	case jsonparser.Null:
		return "", nil
	default:
		return string(value), nil
	}
}

// Int returns the integer at path.
func Int(data []byte, path string) (int64, error) {
	value, typ, err := Get(data, path)
	if err != nil {
		return 0, err
	}
	if typ == jsonparser.String {
		n, perr := strconv.ParseInt(string(value), 10, 64)
		if perr != nil {
			return 0, &PathError{Path: path, Err: perr}
		}
		return n, nil
	}
	n, err := jsonparser.ParseInt(value)
	if err != nil {
		return 0, &PathError{Path: path, Err: err}
	}
	return n, nil
}

// Float returns the number at path.
func Float(data []byte, path string) (float64, error) {
	value, _, err := Get(data, path)
	if err != nil {
		return 0, err
	}
	f, err := jsonparser.ParseFloat(value)
	if err != nil {
		return 0, &PathError{Path: path, Err: err}
	}
	return f, nil
}

// Bool returns the boolean at path.
func Bool(data []byte, path string) (bool, error) {
	value, _, err := Get(data, path)
	if err != nil {
		return false, err
	}
	b, err := jsonparser.ParseBoolean(value)
	if err != nil {
		return false, &PathError{Path: path, Err: err}
	}
	return b, nil
}

// Len returns the number of elements of the array or keys of the object at path.
func Len(data []byte, path string) (int, error) {
	value, typ, err := Get(data, path)
	if err != nil {
		return 0, err
	}
	n := 0
	switch typ {
	case jsonparser.Array:
		_, err = jsonparser.ArrayEach(value, func([]byte, jsonparser.ValueType, int, error) { n++ })
	case jsonparser.Object:
		err = jsonparser.ObjectEach(value, func([]byte, []byte, jsonparser.ValueType, int) error {
			n++
			return nil
		})
	default:
		return 0, &PathError{Path: path, Err: fmt.Errorf("value is %s, not a collection", typ)}
	}
	if err != nil {
		return 0, &PathError{Path: path, Err: err}
	}
	return n, nil
}
