package settings

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const (
	ErrUnknownField = errors.ErrorCode("settings_unknown_field")
	ErrUpdate       = errors.ErrorCode("settings_update_failed")
)
