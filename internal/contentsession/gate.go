package contentsession

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/vsohash"
)

// slowAcquireThreshold is the §4.5 "Concurrency gate" trip wire: an
// acquisition that waits this long gets a warning trace.
const slowAcquireThreshold = time.Second

// Gate bounds the number of outstanding remote calls a session issues
// concurrently, tracing a warning when acquisition is slow.
type Gate struct {
	sem    *semaphore.Weighted
	Logger logging.Logger
}

// NewGate constructs a Gate allowing up to max concurrent holders.
func NewGate(max int64, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Gate{sem: semaphore.NewWeighted(max), Logger: logger}
}

// Acquire blocks until a slot is free or ctx is cancelled, logging a
// warning if the wait exceeds slowAcquireThreshold.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	err := g.sem.Acquire(ctx, 1)
	if waited := time.Since(start); waited > slowAcquireThreshold {
		g.Logger.Warn("content session gate acquisition took %s", waited)
	}
	return err
}

// Release frees the slot acquired by a prior successful Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// GatedSession wraps a Session so every capability call passes through a
// shared Gate before reaching the backend.
type GatedSession struct {
	Backend Session
	Gate    *Gate
}

func (g GatedSession) Pin(ctx context.Context, hash vsohash.ContentHash) (PinResult, error) {
	if err := g.Gate.Acquire(ctx); err != nil {
		return PinResult{Status: Error, Err: err}, err
	}
	defer g.Gate.Release()
	return g.Backend.Pin(ctx, hash)
}

func (g GatedSession) PinBulk(ctx context.Context, hashes []vsohash.ContentHash) ([]PinResult, error) {
	if err := g.Gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.Gate.Release()
	return g.Backend.PinBulk(ctx, hashes)
}

func (g GatedSession) OpenStream(ctx context.Context, hash vsohash.ContentHash) (io.ReadCloser, error) {
	if err := g.Gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.Gate.Release()
	return g.Backend.OpenStream(ctx, hash)
}

func (g GatedSession) PlaceFile(ctx context.Context, hash vsohash.ContentHash, destination string, access AccessMode, replacement ReplacementMode, realization RealizationMode) (PinStatus, error) {
	if err := g.Gate.Acquire(ctx); err != nil {
		return Error, err
	}
	defer g.Gate.Release()
	return g.Backend.PlaceFile(ctx, hash, destination, access, replacement, realization)
}
