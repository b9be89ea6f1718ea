// Package jobs runs the back office's scheduled work.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/reorder"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultDigestSchedule = "@every 1h"

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Dashboards interface {
	ReorderDashboard(ctx context.Context) (*reorder.Dashboard, error)
}

type Outbox interface {
	AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

type Scheduler struct {
	sched      *cron.Cron
	dashboards Dashboards
	outbox     Outbox
	timeout    time.Duration
}

func NewScheduler(dashboards Dashboards, outbox Outbox) *Scheduler {
	return &Scheduler{
		sched:      cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		dashboards: dashboards,
		outbox:     outbox,
		timeout:    30 * time.Second,
	}
}

// ScheduleDigest registers the reorder digest. An empty spec uses DefaultDigestSchedule.
func (s *Scheduler) ScheduleDigest(spec string) error {
	if spec == "" {
		spec = DefaultDigestSchedule
	}
	_, err := s.sched.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("reorder digest panic", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RunDigest(ctx); err != nil {
			zap.L().Error("reorder digest failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reorder digest %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.sched.Stop().Done():
	case <-ctx.Done():
	}
}

type digestSupplier struct {
	SupplierID     *int64 `json:"supplier_id"`
	SupplierName   string `json:"supplier_name"`
	Products       int    `json:"products"`
	TotalShortage  int64  `json:"total_shortage"`
	TotalSuggested int64  `json:"total_suggested"`
}

type digestEvent struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	TotalProducts int              `json:"total_products"`
	OutOfStock    int              `json:"out_of_stock"`
	Suppliers     []digestSupplier `json:"suppliers"`
}

// RunDigest snapshots the reorder dashboard into a reorder.digest outbox event.
// Nothing is written when no product is below its minimum.
func (s *Scheduler) RunDigest(ctx context.Context) error {
	dash, err := s.dashboards.ReorderDashboard(ctx)
	if err != nil {
		return fmt.Errorf("build reorder dashboard: %w", err)
	}
	if dash.TotalProducts == 0 {
		zap.L().Debug("reorder digest skipped, nothing below minimum")
		return nil
	}

	event := digestEvent{
		GeneratedAt:   dash.GeneratedAt,
		TotalProducts: dash.TotalProducts,
		OutOfStock:    dash.OutOfStock,
		Suppliers:     make([]digestSupplier, 0, len(dash.Groups)),
	}
	for _, g := range dash.Groups {
		event.Suppliers = append(event.Suppliers, digestSupplier{
			SupplierID:     g.SupplierID,
			SupplierName:   g.SupplierName,
			Products:       len(g.Products),
			TotalShortage:  g.TotalShortage,
			TotalSuggested: g.TotalSuggested,
		})
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal reorder digest: %w", err)
	}

	err = s.outbox.AddOutboxEvent(ctx, &domain.OutboxEvent{
		AggregateID: dash.GeneratedAt.Format(time.RFC3339),
		EventType:   domain.EventReorderDigest,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("store reorder digest: %w", err)
	}

	zap.L().Info("reorder digest queued",
		zap.Int("products", dash.TotalProducts),
		zap.Int("out_of_stock", dash.OutOfStock),
		zap.Int("suppliers", len(dash.Groups)))
	return nil
}
