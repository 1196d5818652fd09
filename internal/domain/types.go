package domain

import (
	"errors"
	"time"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
	PartLink  PartType = "link"
)

func (t PartType) Valid() bool {
	switch t {
	case PartText, PartImage, PartAudio, PartLink:
		return true
	}
	return false
}

type DeviceType string

const (
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DeviceWeb     DeviceType = "web"
	DeviceUnknown DeviceType = "unknown"
)

// Echo is a user-authored message scheduled for future delivery back to its
// author. Parts are ordered by OrderIndex ascending.
type Echo struct {
	ID        string
	UserID    string
	DeliverAt time.Time
	Parts     []EchoPart
	CreatedAt time.Time
}

type EchoPart struct {
	ID         string
	Type       PartType
	Content    string
	OrderIndex int
}

// DeviceRegistration maps a user to one push-capable device. Registrations
// are deactivated when the transport reports the token permanently invalid,
// never deleted, so a later re-registration of the same token reactivates it.
type DeviceRegistration struct {
	UserID      string
	DeviceToken string
	DeviceID    string
	DeviceType  DeviceType
	IsActive    bool
}

type CreateEchoRequest struct {
	DeliverAt *time.Time  `json:"deliverAt,omitempty"`
	Parts     []PartInput `json:"parts"`
}

type PartInput struct {
	Type       PartType `json:"type"`
	Content    string   `json:"content"`
	OrderIndex *int     `json:"orderIndex,omitempty"`
}

// Validate checks the parts. Order indexes must be unique after defaulting
// (a missing index takes the part's array position), otherwise rendering
// order would be ambiguous.
func (r CreateEchoRequest) Validate() error {
	if len(r.Parts) == 0 {
		return ErrNoParts
	}
	seen := make(map[int]bool, len(r.Parts))
	for i, p := range r.Parts {
		if !p.Type.Valid() {
			return ErrBadPartType
		}
		if p.Content == "" {
			return ErrEmptyPartContent
		}
		idx := i
		if p.OrderIndex != nil {
			idx = *p.OrderIndex
		}
		if seen[idx] {
			return ErrDuplicateOrderIndex
		}
		seen[idx] = true
	}
	return nil
}

type RegisterDeviceRequest struct {
	DeviceToken string     `json:"deviceToken"`
	DeviceID    string     `json:"deviceId,omitempty"`
	DeviceType  DeviceType `json:"deviceType,omitempty"`
}

func (r RegisterDeviceRequest) Validate() error {
	if r.DeviceToken == "" {
		return ErrMissingDeviceToken
	}
	return nil
}

var (
	ErrNoParts             = errors.New("echo must have at least one part")
	ErrBadPartType         = errors.New("unknown part type")
	ErrEmptyPartContent    = errors.New("part content must not be empty")
	ErrDuplicateOrderIndex = errors.New("duplicate part order index")
	ErrMissingDeviceToken  = errors.New("missing device token")
)
