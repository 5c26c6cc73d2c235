package kafka

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type TopicAdminConfig struct {
	Brokers           []string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
	// Retention of created topics. Zero leaves the broker default.
	Retention time.Duration
	Logger    *zap.Logger
}

// clusterAdmin is the subset of sarama.ClusterAdmin used here.
type clusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	DescribeCluster() ([]*sarama.Broker, int32, error)
	Close() error
}

// Admin provisions the topics a binding needs.
type Admin struct {
	cfg   TopicAdminConfig
	admin clusterAdmin
}

func NewAdmin(cfg TopicAdminConfig) (*Admin, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}
	return newAdmin(cfg, admin), nil
}

func newAdmin(cfg TopicAdminConfig, admin clusterAdmin) *Admin {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Admin{cfg: cfg, admin: admin}
}

// EnsureTopics creates every missing topic. Topics that already exist are
// left untouched.
func (a *Admin) EnsureTopics(topics ...string) error {
	existing, err := a.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if _, ok := existing[topic]; ok {
			continue
		}

		td := &sarama.TopicDetail{
			NumPartitions:     a.cfg.Partitions,
			ReplicationFactor: a.cfg.ReplicationFactor,
		}
		if a.cfg.Retention > 0 {
			td.ConfigEntries = map[string]*string{
				"retention.ms": strPtr(strconv.FormatInt(a.cfg.Retention.Milliseconds(), 10)),
			}
		}

		if err := a.admin.CreateTopic(topic, td, false); err != nil {
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		a.cfg.Logger.Info("Topic created",
			zap.String("topic", topic),
			zap.Int32("partitions", a.cfg.Partitions),
			zap.Int16("replication_factor", a.cfg.ReplicationFactor),
		)
	}
	return nil
}

// ClusterSize returns the number of live brokers and the controller id.
func (a *Admin) ClusterSize() (int, int32, error) {
	brokers, controller, err := a.admin.DescribeCluster()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to describe cluster: %w", err)
	}
	return len(brokers), controller, nil
}

func (a *Admin) Close() error {
	return a.admin.Close()
}

func strPtr(v string) *string {
	s := v
	return &s
}
