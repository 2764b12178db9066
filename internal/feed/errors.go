package feed

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const (
	ErrConnect         = errors.ErrFeedConnect
	ErrAbsent          = errors.ErrFeedAbsent
	ErrWrite           = errors.ErrFeedWrite
	ErrClosed          = errors.ErrFeedClosed
	ErrUnknownDocument = errors.ErrorCode("feed_unknown_document")
	ErrInvalidPatch    = errors.ErrorCode("feed_invalid_patch")
	ErrSubscribe       = errors.ErrorCode("feed_subscribe_failed")
)
