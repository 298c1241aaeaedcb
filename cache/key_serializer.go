package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator joins the segments of a cache key.
const KeySeparator = "::"

// MaxKeyLength bounds serialized keys. Longer argument lists are replaced by
// their xxhash digest so keys stay cheap to compare and to scan by prefix.
const MaxKeyLength = 160

type keySerializer struct {
	namespace string
}

// NewDefaultKeySerializer returns a serializer producing "method::arg::arg".
func NewDefaultKeySerializer() KeySerializer {
	return &keySerializer{}
}

// NewNamespacedKeySerializer prefixes every key with namespace, so all keys
// of one repository can be dropped with a single DeleteByPrefix.
func NewNamespacedKeySerializer(namespace string) KeySerializer {
	return &keySerializer{namespace: namespace}
}

// Prefix is the key prefix shared by every key of namespace.
func Prefix(namespace string) string {
	return namespace + KeySeparator
}

func (s *keySerializer) SerializeKey(method string, args ...any) string {
	head := method
	if s.namespace != "" {
		head = Prefix(s.namespace) + method
	}
	if len(args) == 0 {
		return head
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = serializeValue(reflect.ValueOf(arg))
	}
	tail := strings.Join(parts, KeySeparator)

	if len(head)+len(KeySeparator)+len(tail) > MaxKeyLength {
		tail = "h:" + strconv.FormatUint(xxhash.Sum64String(tail), 16)
	}
	return head + KeySeparator + tail
}

func serializeValue(rv reflect.Value) string {
	if !rv.IsValid() {
		return "nil"
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem())
	case reflect.Func:
		if rv.IsNil() {
			return "nil"
		}
		// Stable within one process only.
		return fmt.Sprintf("func:%x", rv.Pointer())
	case reflect.String:
		return rv.String()
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(rv.Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "[]"
		}
		fallthrough
	case reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = serializeValue(rv.Index(i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		pairs := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, serializeValue(iter.Key())+"="+serializeValue(iter.Value()))
		}
		sort.Strings(pairs)
		return "{" + strings.Join(pairs, ",") + "}"
	}

	if rv.CanInterface() {
		if stringer, ok := rv.Interface().(fmt.Stringer); ok {
			return stringer.String()
		}
		if data, err := json.Marshal(rv.Interface()); err == nil {
			return string(data)
		}
	}
	return rv.Type().String()
}
