package retry

import (
	"strconv"
	"strings"
	"time"

	"go-retry-consumer/pkg/models"

	"github.com/sirupsen/logrus"
)

// Codec reads and writes retry metadata carried in message headers.
//
// Values are ASCII decimal: RetryCount is the number of prior failed
// attempts, RetryAfter is an epoch-millisecond timestamp. Decoding never
// fails: a missing or corrupt header degrades to "process now" and a
// warning is logged, so one bad header cannot stall a partition or queue.
type Codec struct {
	// WriteLegacy also writes the misspelled RetryAffter header for
	// consumers that still read it.
	WriteLegacy bool
	Logger      logrus.FieldLogger
}

func NewCodec(writeLegacy bool, logger logrus.FieldLogger) *Codec {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Codec{WriteLegacy: writeLegacy, Logger: logger}
}

// ReadRetryCount returns the RetryCount header, or 0 when absent or malformed.
func (c *Codec) ReadRetryCount(headers map[string][]byte) int {
	raw, ok := headers[models.HeaderRetryCount]
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || count < 0 {
		c.logger().WithFields(logrus.Fields{
			"header": models.HeaderRetryCount,
			"value":  string(raw),
		}).Warn("Malformed retry count header, treating as first attempt")
		return 0
	}
	return count
}

// ReadNotBefore returns the RetryAfter timestamp. The legacy RetryAffter
// header is only consulted when RetryAfter is absent.
func (c *Codec) ReadNotBefore(headers map[string][]byte) (time.Time, bool) {
	name := models.HeaderRetryAfter
	raw, ok := headers[name]
	if !ok {
		name = models.HeaderLegacyRetryAfter
		if raw, ok = headers[name]; !ok {
			return time.Time{}, false
		}
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || ms < 0 {
		c.logger().WithFields(logrus.Fields{
			"header": name,
			"value":  string(raw),
		}).Warn("Malformed retry-after header, message is eligible now")
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// WriteRetryHeaders returns a copy of headers with the retry metadata set.
// The input map is not modified.
func (c *Codec) WriteRetryHeaders(headers map[string][]byte, retryCount int, notBefore time.Time) map[string][]byte {
	out := make(map[string][]byte, len(headers)+3)
	for k, v := range headers {
		out[k] = v
	}

	out[models.HeaderRetryCount] = []byte(strconv.Itoa(retryCount))
	after := []byte(strconv.FormatInt(notBefore.UnixMilli(), 10))
	out[models.HeaderRetryAfter] = after
	if c.WriteLegacy {
		out[models.HeaderLegacyRetryAfter] = after
	} else {
		delete(out, models.HeaderLegacyRetryAfter)
	}
	return out
}

func (c *Codec) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}
