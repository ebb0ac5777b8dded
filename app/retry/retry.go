package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/fleximart/retail-etl/app/row"
)

// Policy bounds how often and how patiently a transient failure is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration // default 200ms
	MaxDelay    time.Duration // default 5s
	JitterFrac  float64       // default 0.20

	// Retryable overrides Transient when set.
	Retryable func(err error) bool
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is three attempts with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		JitterFrac:  0.20,
	}
}

// Do runs fn until it succeeds, fails permanently, or the attempts run out.
// A timeout that survives every attempt comes back as *row.IOTimeoutError.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			break
		}
	}

	if IsTimeout(err) {
		var already *row.IOTimeoutError
		if errors.As(err, &already) {
			return err
		}
		return &row.IOTimeoutError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}

// Backoff is the jittered exponential delay before attempt+1.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = 5 * time.Second
	}
	j := p.JitterFrac
	if j < 0 {
		j = 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxD {
		d = maxD
	}
	if j == 0 {
		return d
	}
	delta := float64(d) * j
	low := float64(d) - delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*2*delta)
}

// Transient reports whether err is worth another attempt: deadlines, dropped
// connections, and Postgres connection-exception or shutdown errors.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08":
			return true
		case pqErr.Code == "57P01", pqErr.Code == "40001", pqErr.Code == "40P01":
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ioErr *row.IOTimeoutError
	if errors.As(err, &ioErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
