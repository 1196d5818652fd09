package domain

import "errors"

var (
	// ErrEchoNotFound is returned by the echo store when neither the echo
	// nor its parts exist.
	ErrEchoNotFound = errors.New("echo not found")

	// ErrJobStoreUnavailable wraps any scheduling failure caused by the
	// delayed job store being unreachable or not yet connected. Callers
	// that persisted an echo before scheduling should roll it back.
	ErrJobStoreUnavailable = errors.New("job store unavailable")
)

// DeviceSendError is the per-device failure reported by a notification
// transport. Permanent means the token will never work again and the
// registration should be deactivated; otherwise the failure is transient
// and the device simply misses this delivery.
type DeviceSendError struct {
	Reason    string
	Permanent bool
}

func (e *DeviceSendError) Error() string { return e.Reason }

// IsPermanentSendFailure reports whether err marks the device token as
// permanently invalid.
func IsPermanentSendFailure(err error) bool {
	var se *DeviceSendError
	return errors.As(err, &se) && se.Permanent
}
