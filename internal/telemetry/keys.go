package telemetry

import (
	"math"
	"strconv"
)

// ParseKey reads a history key as a number. Keys that are not finite
// numbers inside the int64 range are text keys.
func ParseKey(key string) (float64, bool) {
	f, err := strconv.ParseFloat(key, 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return f, true
}

// KeyLess orders history keys ascending: numeric keys by value, then text
// keys byte-wise. LastN returns the greatest keys under this order.
func KeyLess(a, b string) bool {
	na, aNum := ParseKey(a)
	nb, bNum := ParseKey(b)
	switch {
	case aNum && bNum && na != nb:
		return na < nb
	case aNum != bNum:
		return aNum
	}
	return a < b
}

// numericKey is the key_num column value, nil for text keys
func numericKey(key string) any {
	if f, ok := ParseKey(key); ok {
		return f
	}
	return nil
}
