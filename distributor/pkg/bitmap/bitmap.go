// Package bitmap tracks which recipient indices of a distribution have been paid.
//
// The bitmap is a slice of 64-bit words. Bit i lives in word i/64 at position i%64. Storage
// is allocated in steps of at most Step words so that very large distributions can grow their
// backing account incrementally.
package bitmap

import (
	"errors"
	"fmt"
)

const (
	// WordBits is the number of indices tracked by one word.
	WordBits = 64

	// WordSize is the persisted size of one word in bytes.
	WordSize = 8

	// Step is the maximum number of words allocated by New or a single Expand.
	Step = 1000
)

// ErrIndexOutOfBounds is returned for indices at or beyond the recipient count, or whose word
// has not been allocated yet.
var ErrIndexOutOfBounds = errors.New("index out of bounds")

// RequiredWords returns ceil(n/64).
func RequiredWords(n uint64) uint64 {
	return (n + WordBits - 1) / WordBits
}

// Bitmap is a growable set of paid indices bounded by a fixed recipient count.
type Bitmap struct {
	total uint64
	words []uint64
}

// New allocates min(RequiredWords(total), Step) zero words and reports whether the bitmap is
// fully allocated.
func New(total uint64) (*Bitmap, bool) {
	n := min(RequiredWords(total), Step)
	b := &Bitmap{total: total, words: make([]uint64, n)}
	return b, b.FullyAllocated()
}

// FromWords wraps previously persisted words.
func FromWords(total uint64, words []uint64) *Bitmap {
	return &Bitmap{total: total, words: words}
}

// Total returns the exclusive upper bound on indices.
func (b *Bitmap) Total() uint64 {
	return b.total
}

// Words returns the backing words. Callers must not modify the returned slice.
func (b *Bitmap) Words() []uint64 {
	return b.words
}

// Len returns the number of allocated words.
func (b *Bitmap) Len() int {
	return len(b.words)
}

// ByteSize returns the persisted size of the words.
func (b *Bitmap) ByteSize() int {
	return len(b.words) * WordSize
}

// FullyAllocated reports whether every index below Total has a word.
func (b *Bitmap) FullyAllocated() bool {
	return uint64(len(b.words)) >= RequiredWords(b.total)
}

// ExpansionNeeded returns how many words the next Expand would append.
func (b *Bitmap) ExpansionNeeded() uint64 {
	required := RequiredWords(b.total)
	current := uint64(len(b.words))
	if current >= required {
		return 0
	}
	return min(Step, required-current)
}

// Expand appends ExpansionNeeded zero words and reports whether the bitmap is now fully
// allocated. It is a no-op once fully allocated.
func (b *Bitmap) Expand() bool {
	if n := b.ExpansionNeeded(); n > 0 {
		b.words = append(b.words, make([]uint64, n)...)
	}
	return b.FullyAllocated()
}

func (b *Bitmap) locate(index uint64) (int, uint64, error) {
	if index >= b.total {
		return 0, 0, fmt.Errorf("%w: index %d, total %d", ErrIndexOutOfBounds, index, b.total)
	}
	word := index / WordBits
	if word >= uint64(len(b.words)) {
		return 0, 0, fmt.Errorf("%w: index %d not allocated (%d words)", ErrIndexOutOfBounds, index, len(b.words))
	}
	return int(word), uint64(1) << (index % WordBits), nil
}

// IsSet reports whether index has been marked.
func (b *Bitmap) IsSet(index uint64) (bool, error) {
	w, mask, err := b.locate(index)
	if err != nil {
		return false, err
	}
	return b.words[w]&mask != 0, nil
}

// Set marks index. Setting an already set bit is allowed; callers check IsSet first.
func (b *Bitmap) Set(index uint64) error {
	w, mask, err := b.locate(index)
	if err != nil {
		return err
	}
	b.words[w] |= mask
	return nil
}

// Clear releases every word.
func (b *Bitmap) Clear() {
	b.words = []uint64{}
}

// Clone returns an independent copy.
func (b *Bitmap) Clone() *Bitmap {
	words := make([]uint64, len(b.words))
	copy(words, b.words)
	return &Bitmap{total: b.total, words: words}
}
