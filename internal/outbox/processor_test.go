package outbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billing/internal/domain"
	"billing/internal/infrastructure/database/dbtest"
)

type fakeOutboxRepo struct {
	messages []*domain.OutboxMessage
}

func (r *fakeOutboxRepo) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	stored := *msg
	r.messages = append(r.messages, &stored)
	return nil
}

func (r *fakeOutboxRepo) ClaimPendingTx(ctx context.Context, tx *sql.Tx, limit int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	for _, msg := range r.messages {
		if msg.Status != domain.OutboxStatusPending {
			continue
		}
		out = append(out, *msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkSentTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	now := time.Now()
	for _, id := range ids {
		for _, msg := range r.messages {
			if msg.ID == id {
				msg.Status = domain.OutboxStatusSent
				msg.SentAt = &now
			}
		}
	}
	return nil
}

func (r *fakeOutboxRepo) pendingCount() int {
	n := 0
	for _, msg := range r.messages {
		if msg.Status == domain.OutboxStatusPending {
			n++
		}
	}
	return n
}

type published struct {
	Topic string
	Key   string
}

// fakeProducer fails the call at failAt (1-based) once, then accepts
// everything.
type fakeProducer struct {
	failAt    int
	calls     int
	published []published
}

func (p *fakeProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	p.calls++
	if p.calls == p.failAt {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, published{Topic: topic, Key: key})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func newDrainFixture(t *testing.T, producer *fakeProducer) (*Processor, *fakeOutboxRepo) {
	t.Helper()
	db := dbtest.Open()
	t.Cleanup(func() { db.Close() })
	repo := &fakeOutboxRepo{}
	processor := NewProcessor(db, repo, producer, time.Second, time.Second, 50, zap.NewNop())
	return processor, repo
}

func stageMessages(repo *fakeOutboxRepo, n int) {
	base := time.Now()
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		repo.messages = append(repo.messages, &domain.OutboxMessage{
			ID:          "msg-" + id,
			EventID:     "evt-" + id,
			AggregateID: "pay-" + id,
			Topic:       "payment_events",
			Key:         "pay-" + id,
			Payload:     []byte(`{}`),
			Status:      domain.OutboxStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		})
	}
}

func TestDrainPublishesPendingInOrder(t *testing.T) {
	producer := &fakeProducer{}
	processor, repo := newDrainFixture(t, producer)
	stageMessages(repo, 3)

	require.NoError(t, processor.drainOnce(context.Background()))

	assert.Zero(t, repo.pendingCount())
	require.Len(t, producer.published, 3)
	for i, p := range producer.published {
		assert.Equal(t, "payment_events", p.Topic)
		assert.Equal(t, repo.messages[i].AggregateID, p.Key, "message key carries the aggregate id")
	}
}

func TestPublishFailureLeavesBatchPending(t *testing.T) {
	// The second publish of the batch fails mid-drain.
	producer := &fakeProducer{failAt: 2}
	processor, repo := newDrainFixture(t, producer)
	stageMessages(repo, 3)

	require.Error(t, processor.drainOnce(context.Background()))

	// Nothing is marked sent, including the message that was already
	// acknowledged by the broker: the whole batch stays pending.
	assert.Equal(t, 3, repo.pendingCount())

	// The next pass recovers and publishes every message. The first one goes
	// out twice; consumers deduplicate on event id.
	require.NoError(t, processor.drainOnce(context.Background()))
	assert.Zero(t, repo.pendingCount())
	assert.Len(t, producer.published, 4)
}

func TestDrainWithNothingPendingIsANoOp(t *testing.T) {
	producer := &fakeProducer{}
	processor, repo := newDrainFixture(t, producer)

	require.NoError(t, processor.drainOnce(context.Background()))
	assert.Empty(t, producer.published)
	assert.Empty(t, repo.messages)
}
