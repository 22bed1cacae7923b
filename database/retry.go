package database

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/graphein/graphein/helper"
	"github.com/graphein/graphein/model"
	"github.com/lib/pq"
)

// withRetry runs op with bounded exponential backoff. Transient connection
// errors are retried up to three attempts total; after the last attempt the
// error is surfaced as model.ErrStoreUnavailable. Non-transient errors are
// returned immediately.
func withRetry(action string, op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
	), 2)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err == nil {
		return nil
	}

	if isTransient(err) {
		return helper.NewError(action, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err))
	}
	return helper.NewError(action, err)
}

// isTransient reports whether the error is worth retrying. Connection level
// failures are transient, constraint and syntax errors are not.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		// 08: connection exception, 53: insufficient resources,
		// 57: operator intervention (includes shutdown in progress)
		return class == "08" || class == "53" || class == "57"
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
