package contentsession

import (
	"context"
	"time"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/vsohash"
)

// DedupKind distinguishes a dedup chunk from a dedup node (a Merkle-like
// tree of chunks/nodes) per §4.5 "Dedup-specific pin".
type DedupKind uint8

const (
	DedupChunk DedupKind = iota
	DedupNode
)

// DedupContent identifies one piece of dedup content and its kind.
type DedupContent struct {
	Hash vsohash.ContentHash
	Kind DedupKind
}

// KeepUntilResult is what TryKeepUntilReferenceNode reports for a node.
type KeepUntilResult uint8

const (
	KeepUntilExtended KeepUntilResult = iota
	KeepUntilAbsent
	KeepUntilChildrenInsufficient
)

// DedupBackend is the remote surface C7b needs beyond plain Pin: cheap
// TTL queries and the reference-node keep-until RPC, plus child
// enumeration for the recursive repin path.
type DedupBackend interface {
	Pin
	RemainingTTL(ctx context.Context, hash vsohash.ContentHash) (time.Duration, error)
	TryKeepUntilReferenceNode(ctx context.Context, hash vsohash.ContentHash) (KeepUntilResult, error)
	Children(ctx context.Context, node vsohash.ContentHash) ([]DedupContent, error)
}

// DedupThresholds are the two TTL cutoffs the strategy compares the
// root's remaining TTL against (§4.5).
type DedupThresholds struct {
	IgnorePinThreshold time.Duration
	PinInlineThreshold time.Duration
}

// PinIgnoredRecorder observes a node pin skipped due to ample remaining
// TTL; satisfied by *metrics.Registry's PinIgnored counter.
type PinIgnoredRecorder interface {
	ObservePinIgnored()
}

// DedupPinner implements the C7b pin strategy over a DedupBackend.
type DedupPinner struct {
	Backend    DedupBackend
	Thresholds DedupThresholds
	Logger     logging.Logger
	Recorder   PinIgnoredRecorder
}

func (d DedupPinner) logger() logging.Logger {
	if d.Logger == nil {
		return logging.Noop()
	}
	return d.Logger
}

// Pin implements the full chunk/node decision tree. Chunks are pinned
// unconditionally; nodes are pinned, recursed into, or skipped depending
// on the root's remaining TTL relative to the configured thresholds.
func (d DedupPinner) Pin(ctx context.Context, content DedupContent) (PinResult, error) {
	if content.Kind == DedupChunk {
		return d.Backend.Pin(ctx, content.Hash)
	}
	return d.pinNode(ctx, content.Hash)
}

func (d DedupPinner) pinNode(ctx context.Context, hash vsohash.ContentHash) (PinResult, error) {
	ttl, err := d.Backend.RemainingTTL(ctx, hash)
	if err != nil {
		return PinResult{Status: Error, Err: err}, err
	}
	if ttl > d.Thresholds.IgnorePinThreshold {
		if d.Recorder != nil {
			d.Recorder.ObservePinIgnored()
		}
		return PinResult{Status: Success}, nil
	}

	if ttl < d.Thresholds.PinInlineThreshold {
		return d.keepUntilInline(ctx, hash)
	}

	go func() {
		bg := context.Background()
		if _, err := d.keepUntilInline(bg, hash); err != nil {
			d.logger().Debug("background pin of node failed: %v", err)
		}
	}()
	return PinResult{Status: Success}, nil
}

func (d DedupPinner) keepUntilInline(ctx context.Context, hash vsohash.ContentHash) (PinResult, error) {
	result, err := d.Backend.TryKeepUntilReferenceNode(ctx, hash)
	if err != nil {
		return PinResult{Status: Error, Err: err}, err
	}
	switch result {
	case KeepUntilAbsent:
		return PinResult{Status: ContentNotFound}, nil
	case KeepUntilExtended:
		return PinResult{Status: Success}, nil
	case KeepUntilChildrenInsufficient:
		children, err := d.Backend.Children(ctx, hash)
		if err != nil {
			return PinResult{Status: Error, Err: err}, err
		}
		for _, child := range children {
			if _, err := d.Pin(ctx, child); err != nil {
				return PinResult{Status: Error, Err: err}, err
			}
		}
		return d.keepUntilInline(ctx, hash)
	default:
		return PinResult{Status: Error}, nil
	}
}
