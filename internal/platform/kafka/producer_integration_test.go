//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"sigil/internal/platform/kafka"
	"sigil/pkg/testutil/containers"
)

type ProducerSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	producer *kafka.Producer
}

func TestProducerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerSuite))
}

func (s *ProducerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())

	producer, err := kafka.NewProducer(s.redpanda.Brokers)
	s.Require().NoError(err)
	s.Require().NotNil(producer)
	s.producer = producer
}

func (s *ProducerSuite) TearDownSuite() {
	s.producer.Close()
}

// consume reads records from the topic's beginning until count records
// arrive or the deadline passes.
func (s *ProducerSuite) consume(topic string, count int) []*kgo.Record {
	s.T().Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < count {
		fetches := client.PollFetches(ctx)
		s.Require().NoError(fetches.Err())
		records = append(records, fetches.Records()...)
	}
	return records
}

func (s *ProducerSuite) TestEnsureTopicIsIdempotent() {
	ctx := context.Background()
	topic := "itest-topic-" + uuid.NewString()

	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1))
	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1))
}

func (s *ProducerSuite) TestPublishRoundTrip() {
	ctx := context.Background()
	topic := "itest-topic-" + uuid.NewString()
	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1))

	err := s.producer.Publish(ctx, topic, "req-1", []byte(`{"value":"1"}`))
	s.Require().NoError(err)

	records := s.consume(topic, 1)
	s.Require().Len(records, 1)
	s.Equal("req-1", string(records[0].Key))
	s.JSONEq(`{"value":"1"}`, string(records[0].Value))
}

func (s *ProducerSuite) TestPublishAsyncDelivers() {
	ctx := context.Background()
	topic := "itest-topic-" + uuid.NewString()
	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1))

	for i := 0; i < 3; i++ {
		s.producer.PublishAsync(ctx, topic, "req-2", []byte(`{"n":1}`))
	}

	records := s.consume(topic, 3)
	s.Len(records, 3)
}
