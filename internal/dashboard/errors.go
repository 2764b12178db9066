package dashboard

import "github.com/arqiarkaan/enviro-dashboard/internal/errors"

const ErrStopped = errors.ErrorCode("dashboard_stopped")
