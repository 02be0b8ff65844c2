package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// RuleSyncer mirrors the full exception-rule dimension on every run
type RuleSyncer struct {
	api    API
	store  Store
	logger *logrus.Entry
}

// NewRuleSyncer creates a rule syncer
func NewRuleSyncer(api API, store Store, logger *logrus.Logger) *RuleSyncer {
	return &RuleSyncer{
		api:    api,
		store:  store,
		logger: logger.WithField("component", "rule-sync"),
	}
}

// Run fetches all rules and upserts them
func (s *RuleSyncer) Run(ctx context.Context) (*EntityResult, error) {
	rules, err := s.api.GetRules(ctx)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to fetch rules: %w", err))
	}

	count, err := s.store.UpsertRules(ctx, rules)
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to upsert rules: %w", err))
	}

	now := time.Now().UTC()
	if err := s.store.AdvanceSyncCursor(ctx, models.SourceRule, &now, count); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("failed to advance rule cursor: %w", err))
	}

	s.logger.WithField("processed", count).Info("Rule sync completed")
	return &EntityResult{Processed: count}, nil
}

func (s *RuleSyncer) fail(ctx context.Context, cause error) error {
	if err := s.store.MarkSyncError(ctx, models.SourceRule, cause); err != nil {
		s.logger.WithError(err).Warn("Failed to mark rule cursor error")
	}
	return cause
}
