package settings

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/feed"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
	"github.com/arqiarkaan/enviro-dashboard/internal/state"
)

// Field is a threshold in the form vocabulary
type Field string

const (
	Temperature Field = "temperature"
	Humidity    Field = "humidity"
	Gas         Field = "gas"
	Distance    Field = "distance"
)

var storageNames = map[Field]string{
	Temperature: "tempThreshold",
	Humidity:    "humidityThreshold",
	Gas:         "gasThreshold",
	Distance:    "distanceThreshold",
}

// StorageName returns the settings document key for f
func (f Field) StorageName() (string, bool) {
	name, ok := storageNames[f]
	return name, ok
}

// Edit holds user-entered threshold text keyed by form field. Fields not
// present are left untouched in the store.
type Edit map[Field]string

// Manager writes threshold edits to the settings document
type Manager struct {
	feed feed.Feed
	log  logger.Logger
}

func NewManager(f feed.Feed, log logger.Logger) *Manager {
	return &Manager{feed: f, log: log}
}

// Update coerces and translates e, then sends it as a partial update. The
// patch that was sent is returned.
func (m *Manager) Update(ctx context.Context, e Edit) (map[string]any, error) {
	patch, err := Translate(e)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		m.log.Debug().Msg("Empty threshold edit, nothing to send")
		return patch, nil
	}

	if err := m.feed.Update(ctx, feed.Settings, patch); err != nil {
		m.log.Error().Err(err).Interface("patch", patch).Msg("Failed to update thresholds")
		return nil, errors.New().Wrap(ErrUpdate, err)
	}

	m.log.Info().Interface("patch", patch).Msg("Thresholds updated")
	return patch, nil
}

// Translate maps an Edit onto storage keys with lenient numeric coercion
func Translate(e Edit) (map[string]any, error) {
	patch := make(map[string]any, len(e))
	for field, text := range e {
		name, ok := field.StorageName()
		if !ok {
			return nil, errors.New().WithData(ErrUnknownField, string(field))
		}
		patch[name] = ParseLenient(text)
	}
	return patch, nil
}

// FormValues is the reverse translation used to pre-fill a form
func FormValues(c state.ThresholdConfig) Edit {
	format := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return Edit{
		Temperature: format(c.TempThreshold),
		Humidity:    format(c.HumidityThreshold),
		Gas:         format(c.GasThreshold),
		Distance:    format(c.DistanceThreshold),
	}
}

// Fields lists the form fields in a stable order
func Fields() []Field {
	out := make([]Field, 0, len(storageNames))
	for f := range storageNames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseLenient reads the longest leading decimal number of s, ignoring
// leading whitespace. Input with no such prefix, or whose value is not
// finite, yields 0. It never fails.
func ParseLenient(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := numericPrefix(s)
	if end == 0 {
		return 0
	}

	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return 0
	}
	return f
}

// numericPrefix returns the length of the longest prefix of s of the form
// [+-]digits[.digits][e[+-]digits] with at least one mantissa digit.
func numericPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}

	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		start := j
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j > start {
			i = j
		}
	}

	return i
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
