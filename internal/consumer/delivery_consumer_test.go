package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/ledger"
	"github.com/fjod/go_cart/backoffice/internal/restock"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	commitErr error
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error { return nil }

func (r *mockReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func noticeMessage(t *testing.T, offset int64, notice DeliveryNotice) kafka.Message {
	value, err := json.Marshal(notice)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func setup(t *testing.T) (*store.MemoryStore, *restock.Processor) {
	s := store.NewMemoryStore()
	for _, id := range []int64{1, 2} {
		require.NoError(t, s.UpsertProduct(context.Background(), domain.Product{ID: id, Name: "p", Quantity: 1, MinStockLevel: 5, Price: decimal.NewFromInt(1)}))
	}
	return s, restock.NewProcessor(ledger.New(s))
}

func TestProcessMessage_RestocksAndCommits(t *testing.T) {
	ctx := context.Background()
	s, processor := setup(t)
	reader := &mockReader{messages: []kafka.Message{
		noticeMessage(t, 7, DeliveryNotice{DeliveryID: "d-1", Items: []restock.Item{
			{ProductID: 1, Quantity: 10},
			{ProductID: 99, Quantity: 3},
			{ProductID: 2, Quantity: 4, Reason: "pallet 3"},
		}}),
	}}
	c := NewDeliveryConsumer(reader, processor)

	require.NoError(t, c.processMessage(ctx))

	assert.Equal(t, []int64{7}, reader.committedOffsets())
	p1, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p1.Quantity)
	p2, err := s.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p2.Quantity)

	movements, err := s.Movements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.SourceBulkRestock, movements[0].Source)
	assert.Equal(t, "delivery d-1", movements[0].Reason)

	movements, err = s.Movements(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "pallet 3", movements[0].Reason)
}

func TestProcessMessage_SkipsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
	}{
		{"invalid json", []byte("{")},
		{"missing delivery id", []byte(`{"items":[{"product_id":1,"quantity":1}]}`)},
		{"empty batch", []byte(`{"delivery_id":"d-2","items":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, processor := setup(t)
			reader := &mockReader{messages: []kafka.Message{{Offset: 3, Value: tt.value}}}

			require.NoError(t, NewDeliveryConsumer(reader, processor).processMessage(context.Background()))

			assert.Equal(t, []int64{3}, reader.committedOffsets())
			p, err := s.GetProduct(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), p.Quantity)
		})
	}
}

type failingRestocker struct{}

func (failingRestocker) Process(context.Context, []restock.Item) (*restock.Result, error) {
	return nil, context.DeadlineExceeded
}

func TestProcessMessage_TransientErrorNotCommitted(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		noticeMessage(t, 1, DeliveryNotice{DeliveryID: "d-3", Items: []restock.Item{{ProductID: 1, Quantity: 1}}}),
	}}

	err := NewDeliveryConsumer(reader, failingRestocker{}).processMessage(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, reader.committedOffsets())
}

// flakyStore fails transactions touching product until failures runs out.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	product  int64
	failures int
	calls    int
}

func (s *flakyStore) InTx(ctx context.Context, productIDs []int64, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	for _, id := range productIDs {
		if id != s.product {
			continue
		}
		s.calls++
		if s.failures != 0 {
			if s.failures > 0 {
				s.failures--
			}
			s.mu.Unlock()
			return errors.New("connection reset by peer")
		}
	}
	s.mu.Unlock()
	return s.MemoryStore.InTx(ctx, productIDs, fn)
}

func newFlakyConsumer(t *testing.T, reader MessageReader, failures int) (*flakyStore, *DeliveryConsumer) {
	base, _ := setup(t)
	s := &flakyStore{MemoryStore: base, product: 2, failures: failures}
	c := NewDeliveryConsumer(reader, restock.NewProcessor(ledger.New(s)))
	c.retryDelay = time.Millisecond
	c.maxRetryDelay = 5 * time.Millisecond
	return s, c
}

func TestProcessMessage_RetriesStoreFailuresBeforeCommit(t *testing.T) {
	ctx := context.Background()
	reader := &mockReader{messages: []kafka.Message{
		noticeMessage(t, 12, DeliveryNotice{DeliveryID: "d-6", Items: []restock.Item{
			{ProductID: 1, Quantity: 10},
			{ProductID: 2, Quantity: 4},
			{ProductID: 99, Quantity: 3},
		}}),
	}}
	s, c := newFlakyConsumer(t, reader, 2)

	require.NoError(t, c.processMessage(ctx))

	assert.Equal(t, []int64{12}, reader.committedOffsets())
	assert.Equal(t, 3, s.calls)
	p1, err := s.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p1.Quantity, "applied items are not reapplied on retry")
	p2, err := s.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p2.Quantity)

	movements, err := s.Movements(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestProcessMessage_StoreDownHoldsOffset(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		noticeMessage(t, 13, DeliveryNotice{DeliveryID: "d-7", Items: []restock.Item{
			{ProductID: 1, Quantity: 10},
			{ProductID: 2, Quantity: 4},
		}}),
	}}
	s, c := newFlakyConsumer(t, reader, -1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.processMessage(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, reader.committedOffsets())
	p1, err := s.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), p1.Quantity)
	p2, err := s.GetProduct(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p2.Quantity)
}

func TestProcessMessage_CommitError(t *testing.T) {
	_, processor := setup(t)
	reader := &mockReader{
		messages:  []kafka.Message{noticeMessage(t, 1, DeliveryNotice{DeliveryID: "d-4", Items: []restock.Item{{ProductID: 1, Quantity: 1}}})},
		commitErr: errors.New("coordinator not available"),
	}

	err := NewDeliveryConsumer(reader, processor).processMessage(context.Background())

	assert.ErrorContains(t, err, "coordinator not available")
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, processor := setup(t)
	reader := &mockReader{messages: []kafka.Message{
		noticeMessage(t, 1, DeliveryNotice{DeliveryID: "d-5", Items: []restock.Item{{ProductID: 1, Quantity: 1}}}),
	}}
	c := NewDeliveryConsumer(reader, processor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(reader.committedOffsets()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
