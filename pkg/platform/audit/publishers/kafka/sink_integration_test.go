//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "vericrop/pkg/platform/audit"
	"vericrop/pkg/testutil/containers"
)

const testTopic = "vericrop.audit.test"

type SinkSuite struct {
	suite.Suite
	kafka  *containers.KafkaContainer
	client *kgo.Client
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupSuite() {
	s.kafka = containers.NewKafkaContainer(s.T())
	s.Require().NoError(s.kafka.CreateTopic(context.Background(), testTopic))

	client, err := NewClient([]string{s.kafka.Broker}, testTopic)
	s.Require().NoError(err)
	s.client = client
}

func (s *SinkSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *SinkSuite) TestEventsArriveKeyedByClaim() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink := NewSink(s.client, testTopic)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(sink.Append(ctx, audit.Event{
		Timestamp: at,
		ClaimID:   "claim-7",
		Action:    string(audit.ActionClaimSubmitted),
	}))
	s.Require().NoError(sink.Append(ctx, audit.Event{
		Timestamp: at.Add(time.Second),
		ClaimID:   "claim-7",
		Action:    string(audit.ActionDispositionMade),
		Decision:  "AUTO_APPROVED",
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.kafka.Broker),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var records []*kgo.Record
	for len(records) < 2 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for audit records")
		s.Require().Empty(fetches.Errors())
		records = append(records, fetches.Records()...)
	}

	actions := make([]string, 0, len(records))
	for _, rec := range records {
		s.Equal("claim-7", string(rec.Key))
		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Value, &body))
		actions = append(actions, body["action"])
	}
	s.Equal([]string{string(audit.ActionClaimSubmitted), string(audit.ActionDispositionMade)}, actions)
}
