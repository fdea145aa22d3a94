package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tribeapp/notification-service/internal/domain"
	"github.com/tribeapp/notification-service/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver answers which channels a notification may go out on for a given
// user and type. An empty answer means the send is a no-op.
type Resolver interface {
	EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	ChannelsFor(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error)
	Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error)
}

// Store is the gorm-backed Resolver. Preference rows are synthesized with
// defaults the first time a user is seen.
type Store struct {
	preferences repository.PreferenceRepository
	logger      *zap.Logger
}

func NewStore(preferences repository.PreferenceRepository, logger *zap.Logger) (*Store, error) {
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		preferences: preferences,
		logger:      logger,
	}, nil
}

func (s *Store) EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	existing, err := s.preferences.FindByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	created := domain.DefaultPreferences(userID)
	created.ID = uuid.NewString()
	if createErr := s.preferences.Create(ctx, created); createErr != nil {
		// A concurrent first touch may have won the insert.
		if isUniqueViolationError(createErr) {
			return s.preferences.FindByUser(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create default preferences: %w", createErr)
	}

	s.logger.Info("default preferences created", zap.String("userId", userID))
	return created, nil
}

func (s *Store) ChannelsFor(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error) {
	prefs, err := s.EnsurePreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return prefs.EnabledChannels(t), nil
}

func (s *Store) Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		return nil, fmt.Errorf("%w: preferences are required", domain.ErrValidation)
	}

	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	for _, t := range p.MutedTypes {
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: invalid muted type %q", domain.ErrValidation, string(t))
		}
	}

	// First write for an unseen user creates the row, then applies the update.
	if _, err := s.EnsurePreferences(ctx, p.UserID); err != nil {
		return nil, err
	}
	if err := s.preferences.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}

	return s.preferences.FindByUser(ctx, p.UserID)
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
