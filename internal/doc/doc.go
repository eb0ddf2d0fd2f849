package doc

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"
	"sync"
)

const (
	// Updates above this size are rejected before touching document state
	MaxUpdateSize = 1024 * 1024
)

var (
	ErrEmptyUpdate    = errors.New("empty update")
	ErrUpdateTooLarge = errors.New("update exceeds size limit")
)

// Handle is a mergeable document. Merging is commutative and idempotent:
// applying the same update twice, or applying updates in a different order
// on another peer, converges to the same encoded state.
type Handle interface {
	// Feeds one update into the document and returns the bytes to
	// re-emit to peers.
	ApplyUpdate(update []byte) ([]byte, error)

	// Full-state snapshot for late joiners and persistence.
	Encode() []byte

	// Folds a previously encoded snapshot into the document.
	Merge(encoded []byte) error
}

// Engine creates empty documents. Swapping the engine swaps the document
// format without touching the session layer.
type Engine interface {
	NewDocument() Handle
}

// The default engine: documents are sets of updates deduplicated by
// content hash. Set union is commutative and idempotent, which is what
// makes echoing an update back to its sender harmless.
type UpdateSetEngine struct{}

func NewEngine() *UpdateSetEngine {
	return &UpdateSetEngine{}
}

func (e *UpdateSetEngine) NewDocument() Handle {
	return &updateSetDoc{
		updates: make(map[[32]byte][]byte),
	}
}

type updateSetDoc struct {
	updates map[[32]byte][]byte
	mu      sync.Mutex
}

func (d *updateSetDoc) ApplyUpdate(update []byte) ([]byte, error) {
	if len(update) == 0 {
		return nil, ErrEmptyUpdate
	}
	if len(update) > MaxUpdateSize {
		return nil, ErrUpdateTooLarge
	}

	key := sha256.Sum256(update)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.updates[key]; !ok {
		stored := make([]byte, len(update))
		copy(stored, update)
		d.updates[key] = stored
	}

	return update, nil
}

// Encodes all updates in hash order so two converged documents produce
// byte-identical snapshots regardless of delivery order.
func (d *updateSetDoc) Encode() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([][32]byte, 0, len(d.updates))
	for key := range d.updates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	totalSize := 0
	for _, key := range keys {
		totalSize += len(d.updates[key]) + 4
	}

	encoded := make([]byte, 0, totalSize)
	for _, key := range keys {
		encoded = appendFrame(encoded, d.updates[key])
	}
	return encoded
}

func (d *updateSetDoc) Merge(encoded []byte) error {
	for _, update := range SplitFrames(encoded) {
		if _, err := d.ApplyUpdate(update); err != nil {
			return err
		}
	}
	return nil
}

// Frame codec: each update is stored as a 4-byte big-endian length
// followed by the update bytes.

func appendFrame(dst, update []byte) []byte {
	length := uint32(len(update))
	dst = append(dst, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	return append(dst, update...)
}

// Decodes length-prefixed frames. Truncated trailing data is dropped
// rather than failing the whole snapshot.
func SplitFrames(encoded []byte) [][]byte {
	var updates [][]byte
	offset := 0

	for offset < len(encoded) {
		if offset+4 > len(encoded) {
			break
		}

		length := uint32(encoded[offset])<<24 |
			uint32(encoded[offset+1])<<16 |
			uint32(encoded[offset+2])<<8 |
			uint32(encoded[offset+3])
		offset += 4

		if offset+int(length) > len(encoded) {
			break
		}

		update := make([]byte, length)
		copy(update, encoded[offset:offset+int(length)])
		updates = append(updates, update)
		offset += int(length)
	}

	return updates
}
