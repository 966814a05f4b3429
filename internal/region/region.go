// Package region models the single owned byte buffer that backs both the
// slab and the buddy allocator. A Region is either self-allocated (owned)
// or supplied by the caller (external); only an owned region is released
// by Release. The buddy allocator's chunk headers and the slab free list
// live inside Bytes. The buddy allocator's free-area array (list heads and
// counters) and each pool's own header fields are held in the Pool value,
// outside the region.
package region

import "fmt"

// Region is a contiguous byte buffer with explicit ownership.
type Region struct {
	Bytes []byte
	owned bool
	rel   func([]byte) error
}

// New returns a Region over buf if non-nil (external, caller retains
// ownership), otherwise self-allocates n bytes (owned, released by
// Release). n must be > 0.
func New(buf []byte, n uint64) (*Region, error) {
	if n == 0 {
		return nil, fmt.Errorf("region: size must be > 0")
	}

	if buf != nil {
		if uint64(len(buf)) < n {
			return nil, fmt.Errorf("region: external buffer of %d bytes is smaller than requested size %d", len(buf), n)
		}

		return &Region{Bytes: buf[:n]}, nil
	}

	b, release, err := allocate(n)
	if err != nil {
		return nil, err
	}

	return &Region{Bytes: b, owned: true, rel: release}, nil
}

// Owned reports whether Release actually frees the backing memory.
func (r *Region) Owned() bool { return r.owned }

// Release frees the backing memory iff the Region owns it. It is safe to
// call Release more than once or on a nil Region.
func (r *Region) Release() error {
	if r == nil || !r.owned || r.rel == nil {
		return nil
	}

	err := r.rel(r.Bytes)
	r.rel = nil
	r.owned = false

	return err
}

// Len returns the size of the region in bytes.
func (r *Region) Len() uint64 { return uint64(len(r.Bytes)) }
