package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "vericrop/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestSink_Append(t *testing.T) {
	t.Run("keys records by claim id", func(t *testing.T) {
		producer := &fakeProducer{}
		sink := NewSink(producer, "vericrop.audit")

		event := audit.Event{
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			ClaimID:   "claim-1",
			Action:    string(audit.ActionDispositionMade),
			Decision:  "AUTO_APPROVED",
		}
		require.NoError(t, sink.Append(context.Background(), event))
		require.Len(t, producer.records, 1)

		rec := producer.records[0]
		assert.Equal(t, "vericrop.audit", rec.Topic)
		assert.Equal(t, []byte("claim-1"), rec.Key)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Value, &body))
		assert.Equal(t, "AUTO_APPROVED", body["decision"])
		assert.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
	})

	t.Run("surfaces produce errors", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("leader not available")}
		sink := NewSink(producer, "vericrop.audit")
		err := sink.Append(context.Background(), audit.Event{ClaimID: "claim-2", Action: "x"})
		require.Error(t, err)
	})
}
