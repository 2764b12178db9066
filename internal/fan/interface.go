package fan

import (
	"context"

	"github.com/arqiarkaan/enviro-dashboard/internal/state"
)

// Controller issues actuator commands against the settings document
type Controller interface {
	// SetMode switches between manual and automatic control. Automatic
	// mode never carries a fan state.
	SetMode(ctx context.Context, manual bool) error
	// SetState turns the fan on or off, forcing manual mode
	SetState(ctx context.Context, on bool) error
	// Observe records a confirmed settings snapshot
	Observe(cfg state.ThresholdConfig)
	View(cfg state.ThresholdConfig) View
	Pending() bool
}

// Status is the actuator state as shown to users
type Status string

const (
	StatusOn      Status = "ON"
	StatusOff     Status = "OFF"
	StatusUnknown Status = "UNKNOWN"
)

// View is the display state of the fan panel
type View struct {
	Manual   bool   `json:"manual"`
	Mode     string `json:"mode"`
	Status   Status `json:"status"`
	Pending  bool   `json:"pending"`
	Switches bool   `json:"switches"`
}
