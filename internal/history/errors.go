package history

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const (
	ErrInvalidWindow = errors.ErrInvalidWindow
	ErrFetch         = errors.ErrorCode("history_fetch_failed")
	ErrEmptyExport   = errors.ErrorCode("history_empty_export")
	ErrExportWrite   = errors.ErrorCode("history_export_write_failed")
)
