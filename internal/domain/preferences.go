package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TypeList is a JSONB-persisted list of notification types.
type TypeList []NotificationType

func (l TypeList) Contains(t NotificationType) bool {
	for _, candidate := range l {
		if candidate == t {
			return true
		}
	}
	return false
}

func (l TypeList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *TypeList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type list source type %T", value)
	}
}

// Preferences holds a user's per-channel opt-ins and muted notification
// types. One record per user.
type Preferences struct {
	ID           string
	UserID       string
	PushEnabled  bool
	EmailEnabled bool
	InAppEnabled bool
	SMSEnabled   bool
	MutedTypes   TypeList
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultPreferences returns the preference record synthesized for a user
// seen for the first time: push, email and in-app on, sms off, nothing muted.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:       userID,
		PushEnabled:  true,
		EmailEnabled: true,
		InAppEnabled: true,
		SMSEnabled:   false,
	}
}

func (p *Preferences) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelPush:
		return p.PushEnabled
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelSMS:
		return p.SMSEnabled
	default:
		return false
	}
}

// EnabledChannels resolves the channel set for a notification type: every
// enabled channel, or none at all when the type is muted.
func (p *Preferences) EnabledChannels(t NotificationType) []Channel {
	if p.MutedTypes.Contains(t) {
		return nil
	}

	var channels []Channel
	for _, ch := range AllChannels() {
		if p.ChannelEnabled(ch) {
			channels = append(channels, ch)
		}
	}
	return channels
}

// UserContact is the recipient-directory record resolving a user id to
// deliverable addresses.
type UserContact struct {
	ID        string
	UserID    string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
