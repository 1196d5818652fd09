package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDs are sortable, which keeps echo listings and DB indexes cheap.
func newID(prefix string) string {
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewEchoID() string { return newID("echo_") }

func NewPartID() string { return newID("part_") }

func NewDeviceID() string { return newID("dev_") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
