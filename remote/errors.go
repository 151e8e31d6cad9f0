package remote

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// NetworkError marks a failure reaching the remote store. Recoverable: the
// record stays unsynced and is retried on the next drain.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError marks a credential rejection. Recoverable only after
// re-authentication; the syncer pauses until then.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth error: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var networkError *NetworkError
	return errors.As(err, &networkError)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var authError *AuthError
	return errors.As(err, &authError)
}

// classify maps driver errors onto the sync error taxonomy. Class 28
// (invalid authorization) becomes AuthError; everything else is treated as
// unreachability.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28") {
		return &AuthError{Err: err}
	}
	return &NetworkError{Err: err}
}
