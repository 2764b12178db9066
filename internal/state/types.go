package state

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// StaleAfter is how old a reading's timestamp may be before the device
// link counts as stale
const StaleAfter = 30 * time.Second

// Status is a subsystem status as reported by the device. The raw text is
// kept; Kind folds it onto the known values.
type Status string

const (
	StatusReady   Status = "READY"
	StatusError   Status = "ERROR"
	StatusOn      Status = "ON"
	StatusOff     Status = "OFF"
	StatusUnknown Status = "UNKNOWN"
)

// Kind returns s when it is a known status and StatusUnknown otherwise
func (s Status) Kind() Status {
	switch s {
	case StatusReady, StatusError, StatusOn, StatusOff:
		return s
	default:
		return StatusUnknown
	}
}

// Reading is one `/realtime_data` snapshot
type Reading struct {
	Temperature      float64 `json:"temperature"`
	Humidity         float64 `json:"humidity"`
	Gas              float64 `json:"gas"`
	Distance         float64 `json:"distance"`
	MotionDetected   bool    `json:"motionDetected"`
	StatusDHT        Status  `json:"statusDHT"`
	StatusMQ2        Status  `json:"statusMQ2"`
	StatusUltrasonic Status  `json:"statusUltrasonic"`
	StatusRelay      Status  `json:"statusRelay"`
	AlarmStatus      string  `json:"alarmStatus"`
	Timestamp        int64   `json:"timestamp"`
}

// UnmarshalJSON accepts the timestamp as an integer, a float or a numeric
// string; fractional seconds are dropped.
func (r *Reading) UnmarshalJSON(b []byte) error {
	type alias Reading
	aux := struct {
		*alias
		Timestamp json.Number `json:"timestamp"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	r.Timestamp = 0
	if aux.Timestamp == "" {
		return nil
	}
	if n, err := aux.Timestamp.Int64(); err == nil {
		r.Timestamp = n
		return nil
	}
	f, err := aux.Timestamp.Float64()
	if err != nil {
		return err
	}
	if !math.IsNaN(f) && !math.IsInf(f, 0) {
		r.Timestamp = int64(f)
	}
	return nil
}

// ThresholdConfig is one `/settings` snapshot
type ThresholdConfig struct {
	TempThreshold     float64 `json:"tempThreshold"`
	HumidityThreshold float64 `json:"humidityThreshold"`
	GasThreshold      float64 `json:"gasThreshold"`
	DistanceThreshold float64 `json:"distanceThreshold"`
	FanStatus         bool    `json:"fanStatus"`
	ManualControl     bool    `json:"manualControl"`
}

// IsLive reports whether the device link is live at now
func IsLive(r Reading, now time.Time) bool {
	return IsLiveWithin(r, now, StaleAfter)
}

// IsLiveWithin is IsLive with a custom staleness bound
func IsLiveWithin(r Reading, now time.Time, staleAfter time.Duration) bool {
	if r.Timestamp == 0 {
		return false
	}
	return now.Unix()-r.Timestamp <= int64(staleAfter/time.Second)
}

// DecodeReading decodes a realtime snapshot. Nothing from any previous
// snapshot is carried over.
func DecodeReading(b []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(b, &r); err != nil {
		return Reading{}, err
	}
	r.AlarmStatus = strings.TrimSpace(r.AlarmStatus)
	return r, nil
}

// DecodeThresholds decodes a settings snapshot
func DecodeThresholds(b []byte) (ThresholdConfig, error) {
	var c ThresholdConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return ThresholdConfig{}, err
	}
	return c, nil
}
