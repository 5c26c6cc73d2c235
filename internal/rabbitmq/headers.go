package rabbitmq

import (
	"fmt"
	"strconv"
	"time"

	"github.com/streadway/amqp"
)

// toTable converts message headers to AMQP string fields.
func toTable(headers map[string][]byte) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = string(v)
	}
	return t
}

// fromTable converts AMQP header fields to bytes. Publishers other than this
// service may send RetryCount as an integer field, so numbers are rendered
// as ASCII decimal.
func fromTable(t amqp.Table) map[string][]byte {
	headers := make(map[string][]byte, len(t))
	for k, v := range t {
		switch val := v.(type) {
		case string:
			headers[k] = []byte(val)
		case []byte:
			headers[k] = val
		case int:
			headers[k] = []byte(strconv.Itoa(val))
		case int8:
			headers[k] = []byte(strconv.FormatInt(int64(val), 10))
		case int16:
			headers[k] = []byte(strconv.FormatInt(int64(val), 10))
		case int32:
			headers[k] = []byte(strconv.FormatInt(int64(val), 10))
		case int64:
			headers[k] = []byte(strconv.FormatInt(val, 10))
		case uint8:
			headers[k] = []byte(strconv.FormatUint(uint64(val), 10))
		case uint16:
			headers[k] = []byte(strconv.FormatUint(uint64(val), 10))
		case uint32:
			headers[k] = []byte(strconv.FormatUint(uint64(val), 10))
		case float32:
			headers[k] = []byte(strconv.FormatFloat(float64(val), 'f', -1, 32))
		case float64:
			headers[k] = []byte(strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			headers[k] = []byte(strconv.FormatBool(val))
		case time.Time:
			headers[k] = []byte(strconv.FormatInt(val.UnixMilli(), 10))
		case nil:
			headers[k] = nil
		default:
			headers[k] = []byte(fmt.Sprint(val))
		}
	}
	return headers
}

// expiration renders the remaining delay as an AMQP per-message TTL in
// milliseconds, rounded up. Past deadlines expire immediately.
func expiration(notBefore, now time.Time) string {
	remaining := notBefore.Sub(now)
	if remaining <= 0 {
		return "0"
	}
	ms := (remaining + time.Millisecond - 1) / time.Millisecond
	return strconv.FormatInt(int64(ms), 10)
}
