package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the funnel state shared by notifications and their per-channel
// deliveries: PENDING → SENT → DELIVERED → READ, with FAILED reachable from
// any non-terminal state. Each later funnel state implies the earlier ones
// occurred.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// FunnelRank orders the cumulative funnel. FAILED sits outside the funnel
// and reports -1.
func (s Status) FunnelRank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// IsTerminal reports whether a notification in this state is never advanced
// again. A FAILED notification stays failed; its deliveries remain the only
// retriable surface.
func (s Status) IsTerminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanAdvanceTo reports whether the funnel permits moving from s to next:
// strictly forward within the funnel, or to FAILED from any non-terminal
// state.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusFailed {
		return !s.IsTerminal()
	}
	return s.FunnelRank() >= 0 && next.FunnelRank() > s.FunnelRank()
}

func ParseStatusFromString(v string) (Status, error) {
	st := Status(normalizeEnum(v))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, v)
	}
	return st, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriorityFromString(v string) (Priority, error) {
	pr := Priority(normalizeEnum(v))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, v)
	}
	return pr, nil
}

// NotificationType classifies what a notification is about. The wire form is
// upper snake case; parsing also accepts the hyphenated lower-case form used
// by older clients (e.g. "event-reminder").
type NotificationType string

const (
	TypeEventReminder       NotificationType = "EVENT_REMINDER"
	TypeEventUpdate         NotificationType = "EVENT_UPDATE"
	TypeTribeInvitation     NotificationType = "TRIBE_INVITATION"
	TypeTribeMatch          NotificationType = "TRIBE_MATCH"
	TypeTribeUpdate         NotificationType = "TRIBE_UPDATE"
	TypeAIEngagementPrompt  NotificationType = "AI_ENGAGEMENT_PROMPT"
	TypeAchievementUnlocked NotificationType = "ACHIEVEMENT_UNLOCKED"
	TypeSystem              NotificationType = "SYSTEM"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeEventReminder, TypeEventUpdate, TypeTribeInvitation, TypeTribeMatch,
		TypeTribeUpdate, TypeAIEngagementPrompt, TypeAchievementUnlocked, TypeSystem:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(v string) (NotificationType, error) {
	t := NotificationType(normalizeEnum(v))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, v)
	}
	return t, nil
}

const (
	day                 = 24 * time.Hour
	defaultExpiryOffset = 30 * day
)

var expiryOffsets = map[NotificationType]time.Duration{
	TypeEventReminder:       1 * day,
	TypeTribeInvitation:     7 * day,
	TypeTribeMatch:          14 * day,
	TypeAIEngagementPrompt:  3 * day,
	TypeAchievementUnlocked: 60 * day,
	TypeTribeUpdate:         14 * day,
}

// ExpiryOffset returns how long after creation a notification of this type
// stays relevant. Types without a dedicated window use the 30-day default.
func (t NotificationType) ExpiryOffset() time.Duration {
	if offset, ok := expiryOffsets[t]; ok {
		return offset
	}
	return defaultExpiryOffset
}

// Content limits per notification (in runes).
const (
	MaxTitleLength = 100
	MaxBodyLength  = 500
)

// Notification is one logical message addressed to one user. Its status is a
// coarse summary; the authoritative per-channel state lives in the Delivery
// records.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Body      string
	Priority  Priority
	Status    Status
	TribeID   *string
	EventID   *string
	ActionURL *string
	ImageURL  *string
	Metadata  Metadata
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

func (n *Notification) Validate() error {
	var errs FieldErrors

	if strings.TrimSpace(n.UserID) == "" {
		errs = append(errs, FieldError{Field: "userId", Message: "is required"})
	}
	if !n.Type.IsValid() {
		errs = append(errs, FieldError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", n.Type)})
	}

	if strings.TrimSpace(n.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "is required"})
	} else if titleLen := len([]rune(n.Title)); titleLen > MaxTitleLength {
		errs = append(errs, FieldError{
			Field:   "title",
			Message: fmt.Sprintf("exceeds %d characters (got %d)", MaxTitleLength, titleLen),
		})
	}

	if strings.TrimSpace(n.Body) == "" {
		errs = append(errs, FieldError{Field: "body", Message: "is required"})
	} else if bodyLen := len([]rune(n.Body)); bodyLen > MaxBodyLength {
		errs = append(errs, FieldError{
			Field:   "body",
			Message: fmt.Sprintf("exceeds %d characters (got %d)", MaxBodyLength, bodyLen),
		})
	}

	if !n.Priority.IsValid() {
		errs = append(errs, FieldError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", n.Priority)})
	}
	if !n.Status.IsValid() {
		errs = append(errs, FieldError{Field: "status", Message: fmt.Sprintf("invalid status %q", n.Status)})
	}

	return errs.OrNil()
}

// IsExpired reports whether the notification is past its relevance horizon.
func (n *Notification) IsExpired(now time.Time) bool {
	return !n.ExpiresAt.IsZero() && n.ExpiresAt.Before(now)
}

func normalizeEnum(v string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(v)), "-", "_")
}
