package state

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const (
	ErrDecode    = errors.ErrorCode("state_decode_failed")
	ErrSubscribe = errors.ErrorCode("state_subscribe_failed")
	ErrAbsent    = errors.ErrFeedAbsent
)
