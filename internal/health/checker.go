// Package health runs a periodic integrity check over the ledger's hash
// chain and reports transitions between intact and broken states.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	FailThreshold int
}

// Verifier walks the full chain and fails when any link is broken.
type Verifier interface {
	Verify(ctx context.Context) error
}

// DispatchFunc is an optional callback for dispatching integrity events.
type DispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(success bool)

// Checker re-verifies the ledger chain on a fixed interval. A transient
// store error does not immediately count as a broken chain: only after
// FailThreshold consecutive failures does the checker report degradation.
type Checker struct {
	verifier   Verifier
	cfg        Config
	onDispatch DispatchFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger

	mu        sync.Mutex
	failCount int
	lastOK    time.Time
	lastErr   error
}

// New creates a Checker for the given verifier.
func New(verifier Verifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Checker{verifier: verifier, cfg: cfg, logger: logger}
}

// SetDispatch configures the event dispatch callback.
func (c *Checker) SetDispatch(fn DispatchFunc) {
	c.onDispatch = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the check loop until stop is closed. The caller owns stop; a
// shared signal channel would let the loop steal the one delivered signal
// from whoever else is waiting on it.
func (c *Checker) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CheckTimeout)
			c.Check(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// Check runs one verification pass and records the outcome.
func (c *Checker) Check(ctx context.Context) {
	err := c.verifier.Verify(ctx)
	success := err == nil

	if c.onMetrics != nil {
		c.onMetrics(success)
	}

	c.mu.Lock()
	prevCount := c.failCount
	if success {
		c.failCount = 0
		c.lastOK = time.Now().UTC()
		c.lastErr = nil
	} else {
		c.failCount++
		c.lastErr = err
	}
	count := c.failCount
	c.mu.Unlock()

	switch {
	case success && prevCount >= c.cfg.FailThreshold:
		c.logger.Info("integrity: recovered")
	case success:
		c.logger.Debug("integrity: chain intact")
	case count == c.cfg.FailThreshold:
		// Transition: intact -> broken (exactly at threshold).
		c.logger.Error("integrity: chain verification failing",
			zap.Int("consecutive_failures", count),
			zap.Error(err),
		)
		if c.onDispatch != nil {
			// Deliveries run past the end of this check pass; the check
			// timeout must not cancel them.
			c.onDispatch(context.WithoutCancel(ctx), "ledger.chain_broken", map[string]string{
				"error": err.Error(),
			})
		}
	default:
		c.logger.Warn("integrity: chain verification failed",
			zap.Int("consecutive_failures", count),
			zap.Error(err),
		)
	}
}

// Status reports the time of the last successful pass and the most recent
// verification error, if any.
func (c *Checker) Status() (lastOK time.Time, lastErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOK, c.lastErr
}
