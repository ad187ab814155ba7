package contentsession_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forge/internal/contentsession"
	"github.com/forgecore/forge/internal/vsohash"
)

func hashOf(b byte) vsohash.ContentHash {
	var h vsohash.ContentHash
	h.Bytes[0] = b
	return h
}

type fakeSession struct {
	placeCalls int
	pinBulk    func(ctx context.Context, hashes []vsohash.ContentHash) ([]contentsession.PinResult, error)
}

func (f *fakeSession) Pin(ctx context.Context, h vsohash.ContentHash) (contentsession.PinResult, error) {
	return contentsession.PinResult{Status: contentsession.Success}, nil
}

func (f *fakeSession) PinBulk(ctx context.Context, hashes []vsohash.ContentHash) ([]contentsession.PinResult, error) {
	return f.pinBulk(ctx, hashes)
}

func (f *fakeSession) OpenStream(ctx context.Context, h vsohash.ContentHash) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeSession) PlaceFile(ctx context.Context, h vsohash.ContentHash, dest string, access contentsession.AccessMode, replacement contentsession.ReplacementMode, realization contentsession.RealizationMode) (contentsession.PinStatus, error) {
	f.placeCalls++
	return contentsession.Success, nil
}

// §8: PlaceFile(..., FailIfExists) on an existing file returns an error
// without a remote call.
func TestPlaceFileFailIfExistsShortCircuits(t *testing.T) {
	t.Parallel()
	backend := &fakeSession{}
	place := contentsession.ExistenceCheckedPlace{
		Backend: backend,
		Stat:    func(string) (bool, error) { return true, nil },
	}
	status, err := place.PlaceFile(context.Background(), hashOf(1), "/tmp/x", contentsession.AccessReadOnly, contentsession.FailIfExists, contentsession.RealizationCopy)
	require.Error(t, err, "expected an error for FailIfExists on an existing file")
	assert.Equal(t, contentsession.Error, status)
	assert.Equal(t, 0, backend.placeCalls, "expected no remote call")
}

// §8: PlaceFile(..., SkipIfExists) on an existing file returns AlreadyExists
// without a remote call; a missing file falls through to the backend.
func TestPlaceFileSkipIfExists(t *testing.T) {
	t.Parallel()
	backend := &fakeSession{}
	place := contentsession.ExistenceCheckedPlace{
		Backend: backend,
		Stat:    func(string) (bool, error) { return true, nil },
	}
	status, err := place.PlaceFile(context.Background(), hashOf(1), "/tmp/x", contentsession.AccessReadOnly, contentsession.SkipIfExists, contentsession.RealizationCopy)
	require.NoError(t, err)
	assert.Equal(t, contentsession.AlreadyExists, status)
	assert.Equal(t, 0, backend.placeCalls, "expected no remote call for SkipIfExists on existing file")

	place.Stat = func(string) (bool, error) { return false, nil }
	status, err = place.PlaceFile(context.Background(), hashOf(1), "/tmp/y", contentsession.AccessReadOnly, contentsession.SkipIfExists, contentsession.RealizationCopy)
	require.NoError(t, err)
	assert.Equal(t, contentsession.Success, status, "expected the backend call to go through for a missing file")
	assert.Equal(t, 1, backend.placeCalls, "expected exactly one remote call")
}

// §8: pin_bulk([h0, h1, h2]) where h1 is not found returns indexed results
// with ContentNotFound at index 1 and Success at 0 and 2.
func TestPinBulkPartialNotFound(t *testing.T) {
	t.Parallel()
	backend := &fakeSession{
		pinBulk: func(ctx context.Context, hashes []vsohash.ContentHash) ([]contentsession.PinResult, error) {
			results := make([]contentsession.PinResult, len(hashes))
			for i := range hashes {
				if i == 1 {
					results[i] = contentsession.PinResult{Status: contentsession.ContentNotFound}
				} else {
					results[i] = contentsession.PinResult{Status: contentsession.Success}
				}
			}
			return results, nil
		},
	}
	results, err := backend.PinBulk(context.Background(), []vsohash.ContentHash{hashOf(0), hashOf(1), hashOf(2)})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, contentsession.Success, results[0].Status)
	assert.Equal(t, contentsession.ContentNotFound, results[1].Status)
	assert.Equal(t, contentsession.Success, results[2].Status)
}

type fakeDedupBackend struct {
	ttl         time.Duration
	keepUntil   contentsession.KeepUntilResult
	children    []contentsession.DedupContent
	keepCalls   int
	childPinned []vsohash.ContentHash
}

func (f *fakeDedupBackend) Pin(ctx context.Context, h vsohash.ContentHash) (contentsession.PinResult, error) {
	f.childPinned = append(f.childPinned, h)
	return contentsession.PinResult{Status: contentsession.Success}, nil
}

func (f *fakeDedupBackend) RemainingTTL(ctx context.Context, h vsohash.ContentHash) (time.Duration, error) {
	return f.ttl, nil
}

func (f *fakeDedupBackend) TryKeepUntilReferenceNode(ctx context.Context, h vsohash.ContentHash) (contentsession.KeepUntilResult, error) {
	f.keepCalls++
	if f.keepCalls > 1 {
		return contentsession.KeepUntilExtended, nil
	}
	return f.keepUntil, nil
}

func (f *fakeDedupBackend) Children(ctx context.Context, node vsohash.ContentHash) ([]contentsession.DedupContent, error) {
	return f.children, nil
}

// §4.5: a node whose remaining TTL exceeds ignorePinThreshold is skipped
// entirely (no keep-until RPC issued).
func TestDedupPinSkipsWhenTTLHigh(t *testing.T) {
	t.Parallel()
	backend := &fakeDedupBackend{ttl: time.Hour}
	pinner := contentsession.DedupPinner{
		Backend:    backend,
		Thresholds: contentsession.DedupThresholds{IgnorePinThreshold: time.Minute, PinInlineThreshold: time.Second},
	}
	result, err := pinner.Pin(context.Background(), contentsession.DedupContent{Hash: hashOf(1), Kind: contentsession.DedupNode})
	require.NoError(t, err)
	assert.Equal(t, contentsession.Success, result.Status)
	assert.Equal(t, 0, backend.keepCalls, "expected no keep-until RPC when TTL is high")
}

// §4.5: insufficient children TTL triggers recursive pin of children,
// then a re-issued keep-until that now succeeds.
func TestDedupPinRecursesOnInsufficientChildren(t *testing.T) {
	t.Parallel()
	backend := &fakeDedupBackend{
		ttl:       0,
		keepUntil: contentsession.KeepUntilChildrenInsufficient,
		children: []contentsession.DedupContent{
			{Hash: hashOf(10), Kind: contentsession.DedupChunk},
			{Hash: hashOf(11), Kind: contentsession.DedupChunk},
		},
	}
	pinner := contentsession.DedupPinner{
		Backend:    backend,
		Thresholds: contentsession.DedupThresholds{IgnorePinThreshold: time.Minute, PinInlineThreshold: time.Hour},
	}
	result, err := pinner.Pin(context.Background(), contentsession.DedupContent{Hash: hashOf(1), Kind: contentsession.DedupNode})
	require.NoError(t, err)
	assert.Equal(t, contentsession.Success, result.Status, "expected eventual Success after recursion")
	assert.Len(t, backend.childPinned, 2, "expected both children pinned")
}

func TestGateAcquireRelease(t *testing.T) {
	t.Parallel()
	gate := contentsession.NewGate(1, nil)
	ctx := context.Background()
	require.NoError(t, gate.Acquire(ctx))
	released := make(chan struct{})
	go func() {
		gate.Release()
		close(released)
	}()
	<-released
	assert.NoError(t, gate.Acquire(ctx), "unexpected error re-acquiring after release")
	gate.Release()
}
