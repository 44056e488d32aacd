package models

import (
	"database/sql/driver"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Filters is the opaque key/value mapping a caller attaches to a query.
// It implements sql.Scanner and driver.Valuer and is stored as JSON text.
type Filters map[string]string

// Scan implements sql.Scanner.
func (f *Filters) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported filters type %T", value)
	}

	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode filters: %w", err)
	}
	if len(m) == 0 {
		*f = nil
		return nil
	}
	*f = m
	return nil
}

// Value implements driver.Valuer.
func (f Filters) Value() (driver.Value, error) {
	if len(f) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(map[string]string(f))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Clone returns a copy so callers cannot mutate stored entries.
func (f Filters) Clone() Filters {
	if len(f) == 0 {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the filter names in sorted order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
