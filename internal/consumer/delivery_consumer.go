// Package consumer applies supplier delivery notices read from Kafka as bulk restocks.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/restock"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultDeliveryTopic = "supplier-deliveries"
	DefaultGroupID       = "backoffice"
)

// DeliveryNotice is what a supplier integration publishes when goods arrive.
type DeliveryNotice struct {
	DeliveryID string         `json:"delivery_id"`
	SupplierID *int64         `json:"supplier_id,omitempty"`
	Items      []restock.Item `json:"items"`
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type BatchRestocker interface {
	Process(ctx context.Context, items []restock.Item) (*restock.Result, error)
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

// DeliveryConsumer commits a message once its batch has been processed, so a
// crash in between redelivers the notice. Items that failed for infrastructure
// reasons are retried with backoff and hold the offset until they succeed.
type DeliveryConsumer struct {
	reader        MessageReader
	restocker     BatchRestocker
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

func NewDeliveryConsumer(reader MessageReader, restocker BatchRestocker) *DeliveryConsumer {
	return &DeliveryConsumer{
		reader:        reader,
		restocker:     restocker,
		retryDelay:    500 * time.Millisecond,
		maxRetryDelay: 10 * time.Second,
	}
}

func (c *DeliveryConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("delivery consumer", zap.Error(err))
		}
	}
}

func (c *DeliveryConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		zap.L().Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *DeliveryConsumer) processMessage(ctx context.Context) error {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("error reading message: %w", err)
	}

	notice, err := decodeNotice(m.Value)
	if err != nil {
		// a malformed notice would fail forever, skip it
		zap.L().Error("skipping delivery notice", zap.Int64("offset", m.Offset), zap.Error(err))
		return c.commit(ctx, m)
	}

	successful, failed, err := c.restock(ctx, notice)
	switch {
	case errors.Is(err, domain.ErrEmptyBatch), errors.Is(err, domain.ErrBatchTooLarge):
		zap.L().Error("rejected delivery notice", zap.String("delivery_id", notice.DeliveryID), zap.Error(err))
		return c.commit(ctx, m)
	case err != nil:
		return fmt.Errorf("delivery %s: %w", notice.DeliveryID, err)
	}

	for _, f := range failed {
		zap.L().Warn("delivery item not restocked",
			zap.String("delivery_id", notice.DeliveryID),
			zap.Int("index", f.Index),
			zap.Int64("product_id", f.ProductID),
			zap.String("code", f.Code))
	}
	zap.L().Info("delivery restocked",
		zap.String("delivery_id", notice.DeliveryID),
		zap.Int("successful", successful),
		zap.Int("failed", len(failed)))
	return c.commit(ctx, m)
}

// restock applies the notice and retries only the items whose failure was not
// a rejection of the item itself, so applied items are never applied twice.
// It returns once nothing is left to retry or ctx is done.
func (c *DeliveryConsumer) restock(ctx context.Context, notice *DeliveryNotice) (int, []restock.Failure, error) {
	pending := notice.Items
	indexes := make([]int, len(pending))
	for i := range indexes {
		indexes[i] = i
	}

	var (
		successful int
		rejected   []restock.Failure
		delay      = c.retryDelay
	)
	for {
		result, err := c.restocker.Process(ctx, pending)
		if err != nil {
			return 0, nil, err
		}
		successful += len(result.Successful)

		var retryItems []restock.Item
		var retryIndexes []int
		for _, f := range result.Failed {
			f.Index = indexes[f.Index]
			if !isTransient(f.Code) {
				rejected = append(rejected, f)
				continue
			}
			retryItems = append(retryItems, notice.Items[f.Index])
			retryIndexes = append(retryIndexes, f.Index)
		}
		if len(retryItems) == 0 {
			return successful, rejected, nil
		}

		zap.L().Warn("retrying delivery items",
			zap.String("delivery_id", notice.DeliveryID),
			zap.Int("items", len(retryItems)),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return 0, nil, fmt.Errorf("%d items still pending: %w", len(retryItems), ctx.Err())
		case <-time.After(delay):
		}
		delay = min(2*delay, c.maxRetryDelay)
		pending, indexes = retryItems, retryIndexes
	}
}

func isTransient(code string) bool {
	return code == "internal_error" || code == "timeout"
}

func (c *DeliveryConsumer) commit(ctx context.Context, m kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", m.Offset, err)
	}
	return nil
}

func decodeNotice(value []byte) (*DeliveryNotice, error) {
	var notice DeliveryNotice
	if err := json.Unmarshal(value, &notice); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}
	if notice.DeliveryID == "" {
		return nil, errors.New("missing delivery_id")
	}
	for i := range notice.Items {
		if notice.Items[i].Reason == "" {
			notice.Items[i].Reason = "delivery " + notice.DeliveryID
		}
	}
	return &notice, nil
}
