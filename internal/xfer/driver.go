package xfer

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cea-hpc/phobosd-go/internal/catalog"
	"github.com/cea-hpc/phobosd-go/internal/config"
	"github.com/cea-hpc/phobosd-go/internal/layout"
	"github.com/cea-hpc/phobosd-go/internal/metrics"
	"github.com/cea-hpc/phobosd-go/internal/perrors"
	"github.com/cea-hpc/phobosd-go/internal/plog"
)

// Driver is the transfer driver (spec §4.4): one instance per client
// session, owning a catalog handle and an LRS allocator, composing
// internal/raid1 (via the layout.Codec/Allocator interfaces) and
// internal/dproc into full PUT/GET/DEL/UNDEL/COPY batches.
type Driver struct {
	Cat      *catalog.Catalog
	Codec    layout.Codec
	Alloc    layout.Allocator
	Cfg      *config.Config
	Hostname string

	log zerolog.Logger
	rng *rand.Rand
}

// New builds a driver bound to an open catalog, a layout codec, and an
// allocator (normally an internal/lrs.Client).
func New(cat *catalog.Catalog, codec layout.Codec, alloc layout.Allocator, cfg *config.Config) *Driver {
	if cfg == nil {
		cfg = config.Default()
	}
	host := cfg.Hostname
	if host == "" {
		host, _ = os.Hostname()
	}
	// Seed pid^time per spec §9 "jittered backoff ... seeded per-process" —
	// avoids every driver in a fleet drawing the same jitter sequence.
	seed := int64(os.Getpid()) ^ time.Now().UnixNano()
	return &Driver{
		Cat:      cat,
		Codec:    codec,
		Alloc:    alloc,
		Cfg:      cfg,
		Hostname: host,
		log:      plog.Named("xfer"),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// jitteredBackoff sleeps a random duration within the configured
// [min_ms, max_ms] window (spec §4.4 phase 2 step 4, §9).
func (d *Driver) jitteredBackoff(ctx context.Context) error {
	lo, hi := d.Cfg.Backoff.MinMS, d.Cfg.Backoff.MaxMS
	if hi <= lo {
		hi = lo + 1
	}
	span := d.rng.Intn(hi-lo+1) + lo
	t := time.NewTimer(time.Duration(span) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryOnBusy runs op, retrying with jittered backoff while it fails with
// EAGAIN, up to maxAttempts (spec §4.4 phase 2: "loop until every xfer has
// ended"). A non-EAGAIN error or success ends the loop immediately.
func (d *Driver) retryOnBusy(ctx context.Context, maxAttempts int, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if perrors.CodeOf(err) != perrors.EAGAIN {
			return err
		}
		metrics.LocateRetriesTotal.Inc()
		if werr := d.jitteredBackoff(ctx); werr != nil {
			return werr
		}
	}
	return err
}

// runBatch fans a batch out across goroutines, one per target (spec §4.4
// "targets within a batch are independent": nothing about a batch requires
// sequential processing). Each worker's error is captured independently;
// one target failing never cancels its siblings, so the errgroup's own
// error return is unused — only its wait/fan-out machinery is.
func runBatch(ctx context.Context, n int, worker func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = worker(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// observe records a completed operation's outcome and duration (spec §4.4
// "metrics").
func observe(op Op, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.XfersTotal.WithLabelValues(string(op), result).Inc()
	metrics.XferDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}
