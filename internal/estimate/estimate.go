// Package estimate approximates the in-memory byte cost of values written to
// the embedded store. The estimate is deliberately coarse: serialize to the
// canonical JSON form, measure, and scale by a multiplier that accounts for
// storage overhead beyond the raw payload (indexes, page slack, row headers).
package estimate

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultMultiplier is the storage-overhead factor applied when the caller
// does not supply one.
const DefaultMultiplier = 2.5

// Size returns the approximate number of bytes the value will occupy once
// written. Pure and deterministic: same value, same multiplier, same answer.
//
// An empty or nil value still yields a positive estimate because its
// serialized form carries framing characters ("null", "{}", `""`).
// Multipliers <= 0 are replaced with DefaultMultiplier.
func Size(v any, multiplier float64) uint64 {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return uint64(math.Ceil(float64(serializedLen(v)) * multiplier))
}

// serializedLen measures the canonical string form of v.
// Values JSON cannot encode (channels, funcs) fall back to fmt formatting so
// the estimator never errors.
func serializedLen(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return len(fmt.Sprintf("%v", v))
	}
	return len(b)
}
