package taskq

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// itemIDer lets item types name themselves.
type itemIDer interface {
	ItemID() string
}

var itemIDKeys = []string{"id", "name", "key", "uuid"}
var itemIDFields = []string{"ID", "Name", "Key", "UUID"}

// DefaultItemID derives an identity for an item.
// It understands primitives, fmt.Stringer, types with an ItemID() method,
// maps keyed by id/name/key/uuid and structs with ID/Name/Key/UUID fields.
// Anything else is identified by its JSON encoding.
func DefaultItemID(item any) string {
	switch v := item.(type) {
	case nil:
		return ""
	case string:
		return v
	case itemIDer:
		return v.ItemID()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case map[string]any:
		for _, k := range itemIDKeys {
			if id, ok := v[k]; ok && id != nil {
				return DefaultItemID(id)
			}
		}
	case map[string]string:
		for _, k := range itemIDKeys {
			if id, ok := v[k]; ok {
				return id
			}
		}
	default:
		if id, ok := structItemID(item); ok {
			return id
		}
	}
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("%v", item)
	}
	return string(b)
}

func structItemID(item any) (string, bool) {
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return "", false
	}
	for _, name := range itemIDFields {
		f := rv.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			continue
		}
		if f.Kind() == reflect.String && f.Len() == 0 {
			continue
		}
		return DefaultItemID(f.Interface()), true
	}
	return "", false
}
