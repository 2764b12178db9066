package fan

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const (
	ErrSetMode  = errors.ErrorCode("fan_set_mode_failed")
	ErrSetState = errors.ErrorCode("fan_set_state_failed")
)
