package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, events ...Event) error {
	r.got = append(r.got, events...)
	return r.err
}

func (r *recorder) Close() error { return r.err }

func TestNewDefaultsKeyToOutlet(t *testing.T) {
	e, err := New(TransactionCreated, "main-outlet", "", map[string]int64{"grand_total_cents": 1000})
	require.NoError(t, err)
	assert.Equal(t, "main-outlet", e.Key)
	assert.NotEmpty(t, e.EventID)
	assert.JSONEq(t, `{"grand_total_cents":1000}`, string(e.Payload))
}

func TestKafkaPublisherWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	e, err := New(StockLevelChanged, "main-outlet", "main-outlet/SKU-MIE-01", map[string]int64{"quantity": 7})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "main-outlet/SKU-MIE-01", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, StockLevelChanged, string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, StockLevelChanged, decoded["event_type"])
	assert.Equal(t, "main-outlet", decoded["outlet_id"])
	assert.NotContains(t, decoded, "Key")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	e, _ := New(TransactionVoided, "o", "", nil)
	assert.ErrorContains(t, p.Publish(context.Background(), e), "broker down")
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("redis down")}
	f := Fanout{failing, ok}

	e, _ := New(PaymentStatusChanged, "o", "", nil)
	err := f.Publish(context.Background(), e)
	assert.ErrorContains(t, err, "redis down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
}

func TestPublishBestEffortSwallowsErrors(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	e, _ := New(TransactionRefunded, "o", "", nil)
	assert.NotPanics(t, func() {
		PublishBestEffort(context.Background(), failing, e)
		PublishBestEffort(context.Background(), nil, e)
	})
	assert.Len(t, failing.got, 1)
}
