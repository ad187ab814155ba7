// Package fingerprint implements the fingerprinter (C3): combining a pip's
// static (weak) description with its dynamic, observed (strong) inputs into
// a single cache key, using the same accumulate-then-sort-then-hash
// discipline spok's file hasher uses to stay deterministic.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// WeakFingerprint is the hash of a pip's static metadata: command line,
// declared inputs/outputs, environment, and salts.
type WeakFingerprint [sha256.Size]byte

// StrongFingerprint is the hash of (namespace tag, weak fingerprint,
// path-set hash, ordered observed inputs). Two strong fingerprints collide
// iff the hashed inputs are byte-identical.
type StrongFingerprint [sha256.Size]byte

// NamespaceTag is hashed first into every strong fingerprint, so
// fingerprints computed under different namespaces can never be confused
// even if the remaining inputs happen to coincide. The observed-input
// processor uses NamespacePipOutput for both cache lookups and fresh runs,
// whose fingerprints must match.
type NamespaceTag uint8

const (
	NamespacePipOutput NamespaceTag = iota
	NamespaceCacheLookup
)

// encoder accumulates canonical, order-independent-safe byte runs and
// produces a final SHA-256 digest. Every Add call tags its payload with a
// length prefix so that distinct inputs never alias to the same encoding.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) Add(tag byte, payload []byte) *encoder {
	e.buf.WriteByte(tag)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	e.buf.Write(lenBuf[:])
	e.buf.Write(payload)
	return e
}

func (e *encoder) Sum() [sha256.Size]byte {
	return sha256.Sum256(e.buf.Bytes())
}

// WeakFingerprintOf hashes a pip's static metadata fields. Fields are
// hashed in the fixed order given; callers are responsible for passing
// them consistently (command line, declared deps, env, salts, ...).
func WeakFingerprintOf(fields ...[]byte) WeakFingerprint {
	enc := newEncoder()
	for i, f := range fields {
		enc.Add(byte(i), f)
	}
	return enc.Sum()
}

// EncodedObservedInput is a single already-encoded observed input, tagged
// by its ObservedInputType discriminant (see package observed) plus its
// canonical payload.
type EncodedObservedInput struct {
	Tag     byte
	Payload []byte
}

// PathSetHash hashes the ordered observed path entries, the accessed
// file-name set, and a hash of "unsafe options" (any cache-correctness
// affecting config), per the path-set-hash formula in §4.2.
func PathSetHash(observedPathEntries [][]byte, accessedFileNames []string, unsafeOptionsHash []byte) [sha256.Size]byte {
	enc := newEncoder()
	for _, entry := range observedPathEntries {
		enc.Add(0, entry)
	}
	sorted := append([]string(nil), accessedFileNames...)
	sort.Strings(sorted)
	for _, name := range sorted {
		enc.Add(1, []byte(name))
	}
	enc.Add(2, unsafeOptionsHash)
	return enc.Sum()
}

// StrongFingerprintOf hashes (namespace, weak fingerprint, path-set hash,
// ordered observed inputs) per §3's Strong Content Fingerprint. The
// observed inputs must already be sorted by expanded path (the processor's
// responsibility); this function does not re-sort them so that
// order-sensitivity is explicit and testable at this layer.
func StrongFingerprintOf(ns NamespaceTag, weak WeakFingerprint, pathSetHash [sha256.Size]byte, observedInputs []EncodedObservedInput) StrongFingerprint {
	enc := newEncoder()
	enc.Add(0xFF, []byte{byte(ns)})
	enc.Add(0xFE, weak[:])
	enc.Add(0xFD, pathSetHash[:])
	for _, oi := range observedInputs {
		enc.Add(oi.Tag, oi.Payload)
	}
	return enc.Sum()
}
