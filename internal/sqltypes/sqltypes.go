// Package sqltypes adapts column values sqlite hands back in more than one
// shape.
package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// layouts sqlite3 produces for time values; the first is what the driver
// writes for bound time.Time parameters.
var layouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// scanTime converts src to a UTC time. A nil src reports ok as false.
func scanTime(src interface{}) (t time.Time, ok bool, err error) {
	switch src := src.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return src.UTC(), true, nil
	case []byte:
		return scanTime(string(src))
	case string:
		for _, layout := range layouts {
			if t, err = time.Parse(layout, src); err == nil {
				return t.UTC(), true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("could not parse input value %q: %w", src, err)
	default:
		return time.Time{}, false, fmt.Errorf("could not scan input type of %T", src)
	}
}

// TimeScanner reads a non-null time column into Value.
type TimeScanner struct {
	Value *time.Time
}

func (t *TimeScanner) Scan(src interface{}) error {
	v, ok, err := scanTime(src)
	if err == nil && !ok {
		err = fmt.Errorf("unexpected null")
	}
	if err != nil {
		return fmt.Errorf("sqltypes.TimeScanner: %w", err)
	}

	*t.Value = v

	return nil
}

// TimePointerScanner reads a nullable time column, leaving Value nil for
// null.
type TimePointerScanner struct {
	Value **time.Time
}

func (t *TimePointerScanner) Scan(src interface{}) error {
	v, ok, err := scanTime(src)
	if err != nil {
		return fmt.Errorf("sqltypes.TimePointerScanner: %w", err)
	}

	if ok {
		*t.Value = &v
	} else {
		*t.Value = nil
	}

	return nil
}

// JSONStringSlice is stored as a JSON array; an empty slice is written as
// "[]" rather than null.
type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	d, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice: could not encode value: %w", err)
	}

	return string(d), nil
}

func (s *JSONStringSlice) Scan(src interface{}) error {
	var d []byte

	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		d = src
	case string:
		d = []byte(src)
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice: could not scan input type of %T", src)
	}

	var a []string
	if err := json.Unmarshal(d, &a); err != nil {
		return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input as JSON: %w", err)
	}

	*s = a

	return nil
}
