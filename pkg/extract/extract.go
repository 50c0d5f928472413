// Package extract evaluates declarative jq expressions against raw JSON
// payloads. It is side-effect free and isolated from the typing logic so
// the expression language stays swappable.
package extract

import (
	"github.com/itchyny/gojq"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
)

// Expression is a compiled jq program. Compilation happens once, at
// QuerySpec construction, so malformed expressions fail fast.
type Expression struct {
	src  string
	code *gojq.Code
}

// Compile parses and compiles a jq expression.
func Compile(src string) (*Expression, error) {
	if src == "" {
		return nil, errors.New(errors.CodeConfigInvalid, "empty jq expression")
	}
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeConfigInvalid, "parse jq expression %q", src)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeConfigInvalid, "compile jq expression %q", src)
	}
	return &Expression{src: src, code: code}, nil
}

// Source returns the original expression text.
func (e *Expression) Source() string {
	return e.src
}

// Run evaluates the expression and returns every emitted value. A structural
// error raised by the program against this payload is returned as an
// extraction error; zero results is not an error.
func (e *Expression) Run(payload interface{}) ([]interface{}, error) {
	var out []interface{}
	iter := e.code.Run(payload)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, errors.Wrapf(err, errors.CodeExtractionFailed,
				"jq expression %q failed against payload", e.src)
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first emitted value, or nil when nothing matches.
func (e *Expression) First(payload interface{}) (interface{}, error) {
	vals, err := e.Run(payload)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals[0], nil
}

// FirstString returns the first emitted non-null string value. Non-string
// scalars and nulls are skipped; ("", false) means nothing matched.
func (e *Expression) FirstString(payload interface{}) (string, bool, error) {
	vals, err := e.Run(payload)
	if err != nil {
		return "", false, err
	}
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s, true, nil
		}
	}
	return "", false, nil
}

// Records evaluates the expression and flattens the results into flat
// record objects. Emitted objects become one record each; emitted arrays
// contribute their object elements. Anything else is an extraction error
// because it cannot become a row.
func (e *Expression) Records(payload interface{}) ([]map[string]interface{}, error) {
	vals, err := e.Run(payload)
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	for _, v := range vals {
		switch item := v.(type) {
		case nil:
			// A null match contributes nothing.
		case map[string]interface{}:
			records = append(records, item)
		case []interface{}:
			for _, elem := range item {
				obj, ok := elem.(map[string]interface{})
				if !ok {
					return nil, errors.Newf(errors.CodeExtractionFailed,
						"jq expression %q produced a non-object array element (%T)", e.src, elem)
				}
				records = append(records, obj)
			}
		default:
			return nil, errors.Newf(errors.CodeExtractionFailed,
				"jq expression %q produced a scalar (%T), expected objects", e.src, v)
		}
	}
	return records, nil
}
