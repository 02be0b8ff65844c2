package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleet-etl/pkg/config"
	"github.com/fleet-etl/pkg/models"
	"github.com/sirupsen/logrus"
)

// Orchestrator fans out the bounded entity syncs (fault, device, user,
// zone, rule) concurrently and joins them before reporting. Reporting is
// all-or-none: any failure produces a single error run log row, while
// cursor rows already committed by the entity syncs stay committed.
type Orchestrator struct {
	faults  *FaultSyncer
	devices *DeviceSyncer
	users   *UserSyncer
	zones   *ZoneSyncer
	rules   *RuleSyncer

	store   Store
	events  Events
	metrics RunMetrics
	logger  *logrus.Entry
}

// RunResult aggregates the per-entity outcomes of one orchestrated run
type RunResult struct {
	Faults   EntityResult  `json:"fault_result"`
	Devices  EntityResult  `json:"device_result"`
	Users    EntityResult  `json:"user_result"`
	Zones    EntityResult  `json:"zone_result"`
	Rules    EntityResult  `json:"rule_result"`
	Duration time.Duration `json:"-"`
}

// NewOrchestrator wires the entity syncers against one API client and store
func NewOrchestrator(api API, store Store, events Events, metrics RunMetrics, cfg *config.SyncConfig, fallback time.Time, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		faults:  NewFaultSyncer(api, store, cfg.ReferenceLimit, fallback, logger),
		devices: NewDeviceSyncer(api, store, cfg.ReferenceLimit, logger),
		users:   NewUserSyncer(api, store, cfg.ReferenceLimit, logger),
		zones:   NewZoneSyncer(api, store, logger),
		rules:   NewRuleSyncer(api, store, logger),
		store:   store,
		events:  events,
		metrics: metrics,
		logger:  logger.WithField("component", "sync-orchestrator"),
	}
}

// Run executes all entity syncs concurrently and appends one run log row
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	o.logger.Info("Starting orchestrated sync")

	res := &RunResult{}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	launch := func(name string, run func(context.Context) (*EntityResult, error), dst *EntityResult) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := run(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s sync: %w", name, err))
				return
			}
			*dst = *r
		}()
	}

	launch("fault", o.faults.Run, &res.Faults)
	launch("device", o.devices.Run, &res.Devices)
	launch("user", o.users.Run, &res.Users)
	launch("zone", o.zones.Run, &res.Zones)
	launch("rule", o.rules.Run, &res.Rules)

	wg.Wait()
	res.Duration = time.Since(start)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		o.logRunError(ctx, res, err)
		return res, err
	}

	o.logRunSuccess(ctx, res)
	return res, nil
}

func (o *Orchestrator) logRunSuccess(ctx context.Context, res *RunResult) {
	o.logger.WithFields(logrus.Fields{
		"faults":   res.Faults.Processed,
		"devices":  res.Devices.Processed,
		"users":    res.Users.Processed,
		"zones":    res.Zones.Processed,
		"rules":    res.Rules.Processed,
		"duration": res.Duration.Milliseconds(),
	}).Info("Orchestrated sync completed")

	runLog := &models.RunLog{
		Status:          models.RunStatusSuccess,
		RecordsInserted: res.Faults.Processed,
		DevicesCount:    res.Devices.Processed,
		UsersCount:      res.Users.Processed,
		ZonesCount:      res.Zones.Processed,
		RulesCount:      res.Rules.Processed,
		FromDate:        res.Faults.FromDate,
		ToDate:          res.Faults.ToDate,
		Duration:        res.Duration,
		Raw: map[string]interface{}{
			"fault_result":  res.Faults,
			"device_result": res.Devices,
			"user_result":   res.Users,
			"zone_result":   res.Zones,
			"rule_result":   res.Rules,
		},
	}

	if err := o.store.InsertRunLog(ctx, runLog); err != nil {
		o.logger.WithError(err).Warn("Failed to append run log")
	}

	if o.metrics != nil {
		if err := o.metrics.WriteRunPoint(ctx, runLog); err != nil {
			o.logger.WithError(err).Warn("Failed to write run metrics")
		}
	}

	if o.events != nil {
		from := time.Time{}
		if res.Faults.FromDate != nil {
			from = *res.Faults.FromDate
		}
		if err := o.events.PublishSyncComplete("sync", totalProcessed(res), from, res.Faults.ToDate); err != nil {
			o.logger.WithError(err).Warn("Failed to publish completion event")
		}
	}
}

func (o *Orchestrator) logRunError(ctx context.Context, res *RunResult, cause error) {
	o.logger.WithError(cause).Error("Orchestrated sync failed")

	runLog := &models.RunLog{
		Status:       models.RunStatusError,
		ErrorMessage: cause.Error(),
		FromDate:     res.Faults.FromDate,
		Duration:     res.Duration,
		Raw: map[string]interface{}{
			"fault_result":  res.Faults,
			"device_result": res.Devices,
			"user_result":   res.Users,
			"zone_result":   res.Zones,
			"rule_result":   res.Rules,
		},
	}

	if err := o.store.InsertRunLog(ctx, runLog); err != nil {
		o.logger.WithError(err).Warn("Failed to append run log")
	}

	if o.metrics != nil {
		if err := o.metrics.WriteRunPoint(ctx, runLog); err != nil {
			o.logger.WithError(err).Warn("Failed to write run metrics")
		}
	}

	if o.events != nil {
		if err := o.events.PublishSyncError("sync", cause.Error()); err != nil {
			o.logger.WithError(err).Warn("Failed to publish error event")
		}
	}
}

func totalProcessed(res *RunResult) int {
	return res.Faults.Processed +
		res.Devices.Processed +
		res.Users.Processed +
		res.Zones.Processed +
		res.Rules.Processed
}
