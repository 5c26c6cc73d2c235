package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	topics    map[string]sarama.TopicDetail
	created   map[string]*sarama.TopicDetail
	createErr error
	listErr   error
}

func newFakeAdmin(existing ...string) *fakeAdmin {
	f := &fakeAdmin{
		topics:  make(map[string]sarama.TopicDetail),
		created: make(map[string]*sarama.TopicDetail),
	}
	for _, t := range existing {
		f.topics[t] = sarama.TopicDetail{NumPartitions: 3}
	}
	return f
}

func (f *fakeAdmin) ListTopics() (map[string]sarama.TopicDetail, error) {
	return f.topics, f.listErr
}

func (f *fakeAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created[topic] = detail
	return nil
}

func (f *fakeAdmin) DescribeCluster() ([]*sarama.Broker, int32, error) {
	return []*sarama.Broker{sarama.NewBroker("localhost:9092")}, 1, nil
}

func (f *fakeAdmin) Close() error { return nil }

func TestAdmin_EnsureTopicsCreatesMissing(t *testing.T) {
	fake := newFakeAdmin("orders")
	admin := newAdmin(TopicAdminConfig{
		Brokers:    []string{"localhost:9092"},
		Partitions: 3,
		Retention:  24 * time.Hour,
	}, fake)

	require.NoError(t, admin.EnsureTopics("orders", "orders-retry", " ", "orders-dlq"))

	assert.NotContains(t, fake.created, "orders")
	require.Contains(t, fake.created, "orders-retry")
	require.Contains(t, fake.created, "orders-dlq")

	detail := fake.created["orders-retry"]
	assert.Equal(t, int32(3), detail.NumPartitions)
	assert.Equal(t, int16(1), detail.ReplicationFactor)
	assert.Equal(t, "86400000", *detail.ConfigEntries["retention.ms"])
}

func TestAdmin_EnsureTopicsAlreadyExists(t *testing.T) {
	fake := newFakeAdmin()
	fake.createErr = sarama.ErrTopicAlreadyExists
	admin := newAdmin(TopicAdminConfig{Brokers: []string{"localhost:9092"}}, fake)

	assert.NoError(t, admin.EnsureTopics("orders"))
}

func TestAdmin_EnsureTopicsErrors(t *testing.T) {
	fake := newFakeAdmin()
	fake.listErr = errors.New("not controller")
	admin := newAdmin(TopicAdminConfig{Brokers: []string{"localhost:9092"}}, fake)
	assert.Error(t, admin.EnsureTopics("orders"))

	fake = newFakeAdmin()
	fake.createErr = sarama.ErrInvalidReplicationFactor
	admin = newAdmin(TopicAdminConfig{Brokers: []string{"localhost:9092"}}, fake)
	err := admin.EnsureTopics("orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrInvalidReplicationFactor)
}

func TestAdmin_ClusterSize(t *testing.T) {
	admin := newAdmin(TopicAdminConfig{Brokers: []string{"localhost:9092"}}, newFakeAdmin())

	size, controller, err := admin.ClusterSize()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, int32(1), controller)
}

func TestNewAdmin_RequiresBrokers(t *testing.T) {
	_, err := NewAdmin(TopicAdminConfig{})
	assert.Error(t, err)
}
