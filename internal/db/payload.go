package db

import (
	"encoding/json"
	"math"

	"gorm.io/datatypes"
)

// payloadEqual reports whether two event payloads are structurally equal.
// Payloads arrive both as freshly-unmarshalled JSON (float64 numbers) and
// as caller-built maps (ints, json.Number), so numbers are compared by
// value rather than representation. This comparison decides heartbeat
// merge eligibility and must be total over the JSON value domain.
func payloadEqual(a, b datatypes.JSONMap) bool {
	return mapEqual(map[string]interface{}(a), map[string]interface{}(b))
}

func mapEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		return ok && mapEqual(am, bm)
	}

	switch av := a.(type) {
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	if af, ok := asNumber(a); ok {
		bf, bok := asNumber(b)
		return bok && af == bf
	}

	return false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case datatypes.JSONMap:
		return map[string]interface{}(m), true
	}
	return nil, false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	}
	return 0, false
}
