package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RawRecord - JSON-объект источника без схемы. Источники отдают числа то строкой, то числом,
// поэтому чтение полей идет через терпимые аксессоры.
type RawRecord map[string]any

func (r RawRecord) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the field as text; numbers are formatted without exponent.
func (r RawRecord) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// First returns the first non-empty string among keys.
func (r RawRecord) First(keys ...string) string {
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

func (r RawRecord) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case float64:
		return int(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
		if f, err := v.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(f), true
		}
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (r RawRecord) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func (r RawRecord) Decimal(key string) (decimal.Decimal, bool) {
	s := r.String(key)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Bool understands JSON booleans, 0/1 numbers and "true"/"1" strings.
func (r RawRecord) Bool(key string) (bool, bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case json.Number:
		f, err := v.Float64()
		return f != 0, err == nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

func (r RawRecord) Record(key string) RawRecord {
	if m, ok := r[key].(map[string]any); ok {
		return RawRecord(m)
	}
	return nil
}

// Records returns the array under key, keeping only object elements.
func (r RawRecord) Records(key string) []RawRecord {
	return ToRecords(r[key])
}

func ToRecords(v any) []RawRecord {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]RawRecord, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, RawRecord(m))
		}
	}
	return out
}

// Raw re-encodes the record, used to keep the source payload as extra data.
func (r RawRecord) Raw(keys ...string) json.RawMessage {
	sub := make(map[string]any, len(keys))
	for _, k := range keys {
		if r.Has(k) {
			sub[k] = r[k]
		}
	}
	if len(sub) == 0 {
		return nil
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil
	}
	return raw
}

// ExtractList returns the records of a response that is either a bare array or an
// object wrapping the array under one of keys. Dotted keys descend into objects.
func ExtractList(v any, keys ...string) []RawRecord {
	if _, ok := v.([]any); ok {
		return ToRecords(v)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range keys {
		cur := any(obj)
		for _, part := range strings.Split(key, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[part]
		}
		if _, ok := cur.([]any); ok {
			return ToRecords(cur)
		}
	}
	return nil
}
