package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Opt holds a value that may be absent. Set is false when a field was
// missing from the configuration or failed validation.
type Opt[T any] struct {
	Val T
	Set bool
}

// Some returns a present Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Val: v, Set: true}
}

// None returns an absent Opt.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.Val, o.Set
}

// Fields gives typed access to one configuration scope (the top-level
// manifest, one mem_map entry, a flags record, ...).
//
// Fields never mutates the mapping it wraps. It remembers which keys were
// asked for, and Unknown reports everything else. Keys are considered
// consumed even when their value fails to coerce, so a bad value is reported
// once, as a bad value, and not again as an unknown attribute.
type Fields struct {
	scope  string
	values map[string]any
	used   map[string]bool
	log    *Log
}

// NewFields wraps values for extraction. scope prefixes every error message.
func NewFields(scope string, values map[string]any, log *Log) *Fields {
	return &Fields{
		scope:  scope,
		values: values,
		used:   make(map[string]bool, len(values)),
		log:    log,
	}
}

// Scope returns the name used in error messages.
func (f *Fields) Scope() string { return f.scope }

// Has reports whether key is present in the wrapped mapping.
func (f *Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

type coerceFunc[T any] func(scope, key string, value any, log *Log) Opt[T]

func extract[T any](f *Fields, key string, required bool, def Opt[T], coerce coerceFunc[T]) Opt[T] {
	value, ok := f.values[key]
	if !ok {
		if required {
			f.log.Errorf(RuleMissingAttribute, "%s: missing required attribute %q", f.scope, key)
			return None[T]()
		}
		return def
	}
	f.used[key] = true
	return coerce(f.scope, key, value, f.log)
}

// String extracts a required string.
func (f *Fields) String(key string) Opt[string] {
	return extract(f, key, true, None[string](), CoerceString)
}

// OptionalString extracts a string, returning def when key is absent.
func (f *Fields) OptionalString(key string, def Opt[string]) Opt[string] {
	return extract(f, key, false, def, CoerceString)
}

// Int extracts a required integer.
func (f *Fields) Int(key string) Opt[int64] {
	return extract(f, key, true, None[int64](), CoerceInt)
}

// OptionalInt extracts an integer, returning def when key is absent.
func (f *Fields) OptionalInt(key string, def Opt[int64]) Opt[int64] {
	return extract(f, key, false, def, CoerceInt)
}

// Bool extracts a required boolean.
func (f *Fields) Bool(key string) Opt[bool] {
	return extract(f, key, true, None[bool](), CoerceBool)
}

// OptionalBool extracts a boolean, returning def when key is absent.
func (f *Fields) OptionalBool(key string, def Opt[bool]) Opt[bool] {
	return extract(f, key, false, def, CoerceBool)
}

// List extracts a required list.
func (f *Fields) List(key string) Opt[[]any] {
	return extract(f, key, true, None[[]any](), CoerceList)
}

// OptionalList extracts a list, returning def when key is absent.
func (f *Fields) OptionalList(key string, def Opt[[]any]) Opt[[]any] {
	return extract(f, key, false, def, CoerceList)
}

// Map extracts a required nested mapping.
func (f *Fields) Map(key string) Opt[map[string]any] {
	return extract(f, key, true, None[map[string]any](), CoerceMap)
}

// OptionalMap extracts a nested mapping, returning def when key is absent.
func (f *Fields) OptionalMap(key string, def Opt[map[string]any]) Opt[map[string]any] {
	return extract(f, key, false, def, CoerceMap)
}

// Unknown returns the keys that were never extracted, sorted.
func (f *Fields) Unknown() []string {
	var out []string
	for k := range f.values {
		if !f.used[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// CheckUnknown records an error listing every key that was never extracted.
// It reports whether the scope was clean.
func (f *Fields) CheckUnknown() bool {
	unknown := f.Unknown()
	if len(unknown) == 0 {
		return true
	}
	f.log.Errorf(RuleUnknownAttribute, "%s: unknown attributes: %s", f.scope, strings.Join(unknown, ", "))
	return false
}

// CoerceString accepts only string values.
func CoerceString(scope, key string, value any, log *Log) Opt[string] {
	s, ok := value.(string)
	if !ok {
		log.Errorf(RuleNotString, "%s: invalid value for %q - %s, valid string is expected", scope, key, describe(value))
		return None[string]()
	}
	return Some(s)
}

// CoerceInt accepts native integers, integral json.Number values and
// strings holding a decimal or 0x-prefixed hexadecimal literal. Booleans,
// floats and every other type are rejected.
func CoerceInt(scope, key string, value any, log *Log) Opt[int64] {
	switch v := value.(type) {
	case int:
		return Some(int64(v))
	case int8:
		return Some(int64(v))
	case int16:
		return Some(int64(v))
	case int32:
		return Some(int64(v))
	case int64:
		return Some(v)
	case uint8:
		return Some(int64(v))
	case uint16:
		return Some(int64(v))
	case uint32:
		return Some(int64(v))
	case uint:
		if uint64(v) <= 1<<63-1 {
			return Some(int64(v))
		}
	case uint64:
		if v <= 1<<63-1 {
			return Some(int64(v))
		}
	case json.Number:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err == nil {
			return Some(n)
		}
	case string:
		n, err := ParseIntLiteral(v)
		if err == nil {
			return Some(n)
		}
		log.Errorf(RuleNotInteger, "%s: invalid value for %q - %q, valid integer or hex string is expected", scope, key, v)
		return None[int64]()
	}
	log.Errorf(RuleNotInteger, "%s: invalid value for %q - %s, valid integer value is expected", scope, key, describe(value))
	return None[int64]()
}

// ParseIntLiteral parses s as a signed integer. A 0x or 0X prefix selects
// base 16; anything else is decimal. Surrounding whitespace is ignored.
func ParseIntLiteral(s string) (int64, error) {
	t := strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(t, "-"):
		neg = true
		t = t[1:]
	case strings.HasPrefix(t, "+"):
		t = t[1:]
	}
	base := 10
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		base = 16
		t = t[2:]
	}
	if t == "" || strings.HasPrefix(t, "+") || strings.HasPrefix(t, "-") {
		return 0, fmt.Errorf("invalid integer literal %q", s)
	}
	u, err := strconv.ParseUint(t, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q: %w", s, err)
	}
	if neg {
		if u > 1<<63 {
			return 0, fmt.Errorf("integer literal %q out of range", s)
		}
		return -int64(u), nil
	}
	if u > 1<<63-1 {
		return 0, fmt.Errorf("integer literal %q out of range", s)
	}
	return int64(u), nil
}

// CoerceBool accepts only boolean values. Integers and strings such as
// "True" or 1 are rejected.
func CoerceBool(scope, key string, value any, log *Log) Opt[bool] {
	b, ok := value.(bool)
	if !ok {
		log.Errorf(RuleNotBoolean, "%s: invalid value for %q - %s, valid boolean is expected", scope, key, describe(value))
		return None[bool]()
	}
	return Some(b)
}

// CoerceList accepts only list values.
func CoerceList(scope, key string, value any, log *Log) Opt[[]any] {
	l, ok := value.([]any)
	if !ok {
		log.Errorf(RuleNotList, "%s: invalid value for %q - %s, valid list is expected", scope, key, describe(value))
		return None[[]any]()
	}
	return Some(l)
}

// CoerceMap accepts only string-keyed mappings.
func CoerceMap(scope, key string, value any, log *Log) Opt[map[string]any] {
	m, ok := value.(map[string]any)
	if !ok {
		log.Errorf(RuleNotMapping, "%s: invalid value for %q - %s, valid mapping is expected", scope, key, describe(value))
		return None[map[string]any]()
	}
	return Some(m)
}

func describe(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case json.Number:
		return string(v)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v)
	case []any:
		return fmt.Sprintf("list of %d items", len(v))
	case map[string]any:
		return fmt.Sprintf("mapping of %d keys", len(v))
	default:
		return fmt.Sprintf("%T", v)
	}
}
