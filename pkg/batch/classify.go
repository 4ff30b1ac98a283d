package batch

import (
	"errors"

	"github.com/godeps/revlink/pkg/session"
	"github.com/godeps/revlink/pkg/snapshot"
	"github.com/godeps/revlink/pkg/workspace"
)

// Error kinds shared by batch results and single-call tool failures, so a
// caller can tell a missing address apart from a session that was never
// bound.
const (
	KindNotBound           = "not_bound"
	KindStaleSession       = "stale_session"
	KindSessionBusy        = "session_busy"
	KindNotFound           = "not_found"
	KindUnsupported        = "unsupported"
	KindInvalidArgument    = "invalid_argument"
	KindUnsupportedVersion = "unsupported_version"
	KindMigration          = "migration_error"
	KindValidation         = "validation_error"
	KindActionError        = "action_error"
)

// Classify maps an error onto the shared taxonomy.
func Classify(err error) string {
	var validation *snapshot.ValidationError
	var migration *snapshot.MigrationError
	switch {
	case errors.Is(err, session.ErrNotBound), errors.Is(err, session.ErrNoWorkspace):
		return KindNotBound
	case errors.Is(err, session.ErrStale):
		return KindStaleSession
	case errors.Is(err, session.ErrBusy):
		return KindSessionBusy
	case errors.Is(err, session.ErrInvalidName):
		return KindInvalidArgument
	case errors.Is(err, workspace.ErrNotFound):
		return KindNotFound
	case errors.Is(err, workspace.ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, snapshot.ErrUnsupportedVersion):
		return KindUnsupportedVersion
	case errors.As(err, &migration):
		return KindMigration
	case errors.As(err, &validation):
		return KindValidation
	default:
		return KindActionError
	}
}
