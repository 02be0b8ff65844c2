package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// UserSyncer mirrors the full user dimension on every run
type UserSyncer struct {
	api    API
	store  Store
	logger *logrus.Entry

	Limit int
}

// NewUserSyncer creates a user syncer
func NewUserSyncer(api API, store Store, limit int, logger *logrus.Logger) *UserSyncer {
	return &UserSyncer{
		api:    api,
		store:  store,
		logger: logger.WithField("component", "user-sync"),
		Limit:  limit,
	}
}

// Run fetches all users and upserts them
func (s *UserSyncer) Run(ctx context.Context) (*EntityResult, error) {
	users, err := s.api.GetUsers(ctx, s.Limit)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to fetch users: %w", err))
	}

	count, err := s.store.UpsertUsers(ctx, users)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to upsert users: %w", err))
	}

	now := time.Now().UTC()
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceUser, &now, count); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to advance user cursor: %w", err))
	}

	s.logger.WithField("processed", count).Info("User sync completed")
	return &EntityResult{Processed: count}, nil
}

func (s *UserSyncer) fail(ctx context.Context, cause error) error {
	if err := s.store.MarkSyncError(ctx, models.SourceUser, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark user cursor error")
	}
	return cause
}
