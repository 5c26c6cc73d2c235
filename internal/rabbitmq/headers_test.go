package rabbitmq

import (
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

func TestFromTable(t *testing.T) {
	headers := fromTable(amqp.Table{
		"RetryCount":  int32(2),
		"RetryAfter":  int64(1750000004000),
		"event-type":  "order.created",
		"raw":         []byte("bytes"),
		"flag":        true,
		"ratio":       1.5,
		"delivered":   time.UnixMilli(1750000000000),
		"x-death":     []interface{}{"a"},
		"nothing":     nil,
		"small":       uint8(7),
		"medium-sint": int16(-3),
	})

	assert.Equal(t, "2", string(headers["RetryCount"]))
	assert.Equal(t, "1750000004000", string(headers["RetryAfter"]))
	assert.Equal(t, "order.created", string(headers["event-type"]))
	assert.Equal(t, "bytes", string(headers["raw"]))
	assert.Equal(t, "true", string(headers["flag"]))
	assert.Equal(t, "1.5", string(headers["ratio"]))
	assert.Equal(t, "1750000000000", string(headers["delivered"]))
	assert.Equal(t, "[a]", string(headers["x-death"]))
	assert.Nil(t, headers["nothing"])
	assert.Equal(t, "7", string(headers["small"]))
	assert.Equal(t, "-3", string(headers["medium-sint"]))
}

func TestToTable(t *testing.T) {
	assert.Nil(t, toTable(nil))

	table := toTable(map[string][]byte{"RetryCount": []byte("1")})
	assert.Equal(t, amqp.Table{"RetryCount": "1"}, table)
}

func TestExpiration(t *testing.T) {
	now := time.UnixMilli(1_750_000_000_000)

	tests := []struct {
		name      string
		notBefore time.Time
		want      string
	}{
		{"past", now.Add(-time.Second), "0"},
		{"now", now, "0"},
		{"whole milliseconds", now.Add(4000 * time.Millisecond), "4000"},
		{"rounds up", now.Add(1500*time.Microsecond), "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expiration(tt.notBefore, now))
		})
	}
}

func TestTopology_Queues(t *testing.T) {
	assert.Equal(t, []string{"orders"}, Topology{Queue: "orders"}.Queues())
	assert.Equal(t, []string{"orders", "orders.retry", "orders.dlq"}, testTopology.Queues())
}
