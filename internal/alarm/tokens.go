package alarm

import (
	"strings"
)

// Token identifies one alarm condition
type Token string

const (
	Temp     Token = "ALARM_TEMP"
	Humidity Token = "ALARM_HUMIDITY"
	Gas      Token = "ALARM_GAS"
	Motion   Token = "ALARM_MOTION"
)

// Normal is the wire form of an empty Set
const Normal = "NORMAL"

var labels = map[Token]string{
	Temp:     "Suhu Tinggi",
	Humidity: "Kelembapan Tinggi",
	Gas:      "Gas Terdeteksi",
	Motion:   "Gerakan Terdeteksi",
}

// Label returns the display label of t, or its raw text when unknown
func Label(t Token) string {
	if l, ok := labels[t]; ok {
		return l
	}
	return string(t)
}

// Known reports whether t belongs to the fixed vocabulary
func (t Token) Known() bool {
	_, ok := labels[t]
	return ok
}

// Set is an ordered set of alarm tokens. The zero value is empty (NORMAL).
type Set []Token

// ParseSet reads a comma-joined token list. Unknown tokens are kept
// verbatim; NORMAL and empty segments are dropped.
func ParseSet(s string) Set {
	s = strings.TrimSpace(s)
	if s == "" || s == Normal {
		return nil
	}

	var out Set
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == Normal {
			continue
		}
		out = out.With(Token(part))
	}
	return out
}

// String is the wire form: comma-joined tokens, or NORMAL when empty
func (s Set) String() string {
	if len(s) == 0 {
		return Normal
	}
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// With returns s plus t; s is not modified
func (s Set) With(t Token) Set {
	if s.Has(t) {
		return s
	}
	out := make(Set, len(s), len(s)+1)
	copy(out, s)
	return append(out, t)
}

func (s Set) Has(t Token) bool {
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

// Equal compares as sets; order does not matter
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for _, t := range s {
		if !o.Has(t) {
			return false
		}
	}
	return true
}

func (s Set) IsNormal() bool {
	return len(s) == 0
}

// Labels returns the display label of every token, in order
func (s Set) Labels() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = Label(t)
	}
	return out
}
