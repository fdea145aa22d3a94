package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "DELIVERED", want: StatusDelivered},
		{name: "valid lowercase with spaces", input: " read ", want: StatusRead},
		{name: "invalid", input: "queued", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseChannelFromString(" in-app ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
	}
	if got != ChannelInApp {
		t.Fatalf("ParseChannelFromString() = %s, want %s", got, ChannelInApp)
	}

	_, err = ParseChannelFromString("fax")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
	}
}

func TestParseNotificationTypeFromString(t *testing.T) {
	t.Parallel()

	// Older clients send the hyphenated lower-case form.
	got, err := ParseNotificationTypeFromString("event-reminder")
	if err != nil {
		t.Fatalf("ParseNotificationTypeFromString() unexpected error = %v", err)
	}
	if got != TypeEventReminder {
		t.Fatalf("ParseNotificationTypeFromString() = %s, want %s", got, TypeEventReminder)
	}

	got, err = ParseNotificationTypeFromString("ACHIEVEMENT_UNLOCKED")
	if err != nil {
		t.Fatalf("ParseNotificationTypeFromString() unexpected error = %v", err)
	}
	if got != TypeAchievementUnlocked {
		t.Fatalf("ParseNotificationTypeFromString() = %s, want %s", got, TypeAchievementUnlocked)
	}

	_, err = ParseNotificationTypeFromString("birthday")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseNotificationTypeFromString() error = %v, want ErrValidation", err)
	}
}

func TestParsePriorityFromString(t *testing.T) {
	t.Parallel()

	got, err := ParsePriorityFromString(" urgent ")
	if err != nil {
		t.Fatalf("ParsePriorityFromString() unexpected error = %v", err)
	}
	if got != PriorityUrgent {
		t.Fatalf("ParsePriorityFromString() = %s, want %s", got, PriorityUrgent)
	}

	_, err = ParsePriorityFromString("critical")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParsePriorityFromString() error = %v, want ErrValidation", err)
	}
}

func TestStatusCanAdvanceTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending to sent", from: StatusPending, to: StatusSent, want: true},
		{name: "sent to delivered", from: StatusSent, to: StatusDelivered, want: true},
		{name: "delivered to read", from: StatusDelivered, to: StatusRead, want: true},
		{name: "pending to read skips forward", from: StatusPending, to: StatusRead, want: true},
		{name: "sent back to pending", from: StatusSent, to: StatusPending, want: false},
		{name: "read back to delivered", from: StatusRead, to: StatusDelivered, want: false},
		{name: "pending to failed", from: StatusPending, to: StatusFailed, want: true},
		{name: "delivered to failed", from: StatusDelivered, to: StatusFailed, want: true},
		{name: "read to failed", from: StatusRead, to: StatusFailed, want: false},
		{name: "failed to sent", from: StatusFailed, to: StatusSent, want: false},
		{name: "failed to failed", from: StatusFailed, to: StatusFailed, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
				t.Fatalf("CanAdvanceTo(%s → %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestNotificationTypeExpiryOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  NotificationType
		want time.Duration
	}{
		{typ: TypeEventReminder, want: 24 * time.Hour},
		{typ: TypeTribeInvitation, want: 7 * 24 * time.Hour},
		{typ: TypeTribeMatch, want: 14 * 24 * time.Hour},
		{typ: TypeAIEngagementPrompt, want: 3 * 24 * time.Hour},
		{typ: TypeAchievementUnlocked, want: 60 * 24 * time.Hour},
		{typ: TypeTribeUpdate, want: 14 * 24 * time.Hour},
		{typ: TypeEventUpdate, want: 30 * 24 * time.Hour},
		{typ: TypeSystem, want: 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.typ.String(), func(t *testing.T) {
			t.Parallel()

			if got := tt.typ.ExpiryOffset(); got != tt.want {
				t.Fatalf("ExpiryOffset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	base := Notification{
		UserID:   "user-1",
		Type:     TypeEventReminder,
		Title:    "Event tomorrow",
		Body:     "Your tribe meets at 18:00.",
		Priority: PriorityMedium,
		Status:   StatusPending,
	}

	tests := []struct {
		name      string
		mutate    func(*Notification)
		wantErr   bool
		wantField string
	}{
		{
			name:   "valid notification",
			mutate: func(n *Notification) {},
		},
		{
			name: "missing user id",
			mutate: func(n *Notification) {
				n.UserID = "  "
			},
			wantErr:   true,
			wantField: "userId",
		},
		{
			name: "invalid type",
			mutate: func(n *Notification) {
				n.Type = NotificationType("BIRTHDAY")
			},
			wantErr:   true,
			wantField: "type",
		},
		{
			name: "missing title",
			mutate: func(n *Notification) {
				n.Title = ""
			},
			wantErr:   true,
			wantField: "title",
		},
		{
			name: "title over limit",
			mutate: func(n *Notification) {
				n.Title = strings.Repeat("a", MaxTitleLength+1)
			},
			wantErr:   true,
			wantField: "title",
		},
		{
			name: "rune-aware title length accepted",
			mutate: func(n *Notification) {
				n.Title = strings.Repeat("ü", MaxTitleLength)
			},
		},
		{
			name: "body over limit",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("b", MaxBodyLength+1)
			},
			wantErr:   true,
			wantField: "body",
		},
		{
			name: "invalid priority",
			mutate: func(n *Notification) {
				n.Priority = Priority("CRITICAL")
			},
			wantErr:   true,
			wantField: "priority",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := base
			tt.mutate(&n)

			err := n.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}

			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}

			var fields FieldErrors
			if !errors.As(err, &fields) {
				t.Fatalf("Validate() error type = %T, want FieldErrors", err)
			}
			found := false
			for _, fe := range fields {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Fatalf("Validate() fields = %v, want failure on %q", fields, tt.wantField)
			}
		})
	}
}

func TestNotificationValidateReportsEveryField(t *testing.T) {
	t.Parallel()

	n := Notification{Priority: PriorityLow, Status: StatusPending}

	err := n.Validate()
	var fields FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("Validate() error type = %T, want FieldErrors", err)
	}
	// userId, type, title and body all fail at once.
	if len(fields) != 4 {
		t.Fatalf("Validate() reported %d field failures, want 4: %v", len(fields), fields)
	}
}

func TestDeliveryIsRetryEligible(t *testing.T) {
	t.Parallel()

	d := Delivery{Status: StatusFailed, RetryCount: 2}
	if !d.IsRetryEligible(3) {
		t.Fatal("failed delivery below the bound should be retry eligible")
	}

	d.RetryCount = 3
	if d.IsRetryEligible(3) {
		t.Fatal("delivery at the retry bound should not be retry eligible")
	}

	d = Delivery{Status: StatusSent, RetryCount: 0}
	if d.IsRetryEligible(3) {
		t.Fatal("non-failed delivery should not be retry eligible")
	}
}

func TestMetadataMerge(t *testing.T) {
	t.Parallel()

	original := Metadata{"deviceId": "d-1", "attempt": 1}
	merged := original.Merge(Metadata{"attempt": 2, "gateway": "expo"})

	if merged["deviceId"] != "d-1" {
		t.Fatalf("merged deviceId = %v, want d-1", merged["deviceId"])
	}
	if merged["attempt"] != 2 {
		t.Fatalf("merged attempt = %v, want 2 (incoming keys win)", merged["attempt"])
	}
	if merged["gateway"] != "expo" {
		t.Fatalf("merged gateway = %v, want expo", merged["gateway"])
	}
	if original["attempt"] != 1 {
		t.Fatalf("original attempt = %v, want 1 (receiver not mutated)", original["attempt"])
	}

	var nilBag Metadata
	if got := nilBag.Merge(nil); got != nil {
		t.Fatalf("nil merge nil = %v, want nil", got)
	}
}
