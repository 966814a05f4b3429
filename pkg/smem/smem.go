// Package smem implements the slab allocator (SMEM): a fixed-size object
// pool carved from one contiguous byte region, with O(1) alloc/free via a
// Knuth-style singly-linked free list encoded as an array of indices.
//
// The region layout, in order, is: the freelist array, then the element
// array. The element array is tail-aligned so its last element ends
// exactly at the region's end. The pool's header fields (stride, count,
// free head, in-use count, mutex) live in the Pool value, not in the
// region.
package smem

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/mempool/internal/diag"
	"github.com/orizon-lang/mempool/internal/errors"
	"github.com/orizon-lang/mempool/internal/region"
)

// defaultAlign is used when the caller requests alignment 0.
const defaultAlign = 16

// noFree marks a freelist slot as "currently allocated": it is the value
// written into freelist[idx] immediately after idx is popped, and is
// checked on Free to tell a legal free from a double-free. A free slot's
// "next" value is an element index or the elemCount sentinel, so it never
// equals noFree.
const noFree = ^uint32(0)

// Config carries slab pool construction parameters.
type Config struct {
	Align uint32
}

// Option mutates a Config.
type Option func(*Config)

// WithAlign overrides the element alignment (must be a power of two).
func WithAlign(align uint32) Option {
	return func(c *Config) { c.Align = align }
}

func defaultConfig() *Config {
	return &Config{Align: defaultAlign}
}

// Pool is a slab allocator handle.
type Pool struct {
	mu sync.Mutex

	region *region.Region

	freelist []uint32
	elemBase uintptr // offset of element 0 within region.Bytes

	elemStride uint32
	elemCount  uint32
	freeHead   uint32
	inuse      uint32
}

// Create builds a slab pool over buf (if non-nil) or a self-allocated
// region of regionSize bytes. elemRequested may be 0, in which case the
// pool degenerates into a pure index generator with stride == align.
// Create fails if regionSize is 0 or too small to fit even one element.
func Create(buf []byte, regionSize uint64, elemRequested uint32, opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Align == 0 {
		cfg.Align = defaultAlign
	}

	if regionSize == 0 {
		return nil, errors.InvalidSize(uintptr(regionSize), "smem.Create")
	}

	reg, err := region.New(buf, regionSize)
	if err != nil {
		return nil, err
	}

	stride := alignUp(elemRequested, cfg.Align)
	if stride == 0 {
		stride = cfg.Align
	}

	elemCount := uint32(reg.Len() / uint64(4+stride))
	if elemCount == 0 {
		_ = reg.Release()

		return nil, errors.InvalidSize(uintptr(regionSize), "smem.Create: region too small for one element")
	}

	p := &Pool{
		region:     reg,
		freelist:   unsafe.Slice((*uint32)(unsafe.Pointer(&reg.Bytes[0])), elemCount),
		elemBase:   uintptr(reg.Len()) - uintptr(elemCount)*uintptr(stride),
		elemStride: stride,
		elemCount:  elemCount,
		freeHead:   0,
		inuse:      0,
	}

	for i := uint32(0); i < elemCount; i++ {
		p.freelist[i] = i + 1
	}

	diag.Debugf("smem: created pool elemCount=%d stride=%d regionSize=%d", elemCount, stride, regionSize)

	return p, nil
}

// alignUp rounds size up to the nearest multiple of align (align must be
// a power of two).
func alignUp(size, align uint32) uint32 {
	if align == 0 {
		return size
	}

	return (size + align - 1) &^ (align - 1)
}

// Alloc returns a pointer into the pool's region for a free element, or
// nil if the pool is exhausted.
func (p *Pool) Alloc() unsafe.Pointer {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inuse == p.elemCount {
		return nil
	}

	idx := p.freeHead
	p.freeHead = p.freelist[idx]
	p.freelist[idx] = noFree
	p.inuse++

	off := p.elemBase + uintptr(idx)*uintptr(p.elemStride)
	diag.Debugf("smem: alloc idx=%d inuse=%d", idx, p.inuse)

	return unsafe.Pointer(&p.region.Bytes[off])
}

// Free returns ptr, previously returned by Alloc, to the pool. A nil ptr
// is a no-op. A ptr that is already free (double-free) or was not
// allocated from this pool's element array is silently ignored.
func (p *Pool) Free(ptr unsafe.Pointer) {
	if p == nil || ptr == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	off := uintptr(ptr) - uintptr(unsafe.Pointer(&p.region.Bytes[0]))
	if off < p.elemBase {
		return
	}

	idx64 := (off - p.elemBase) / uintptr(p.elemStride)
	if idx64 >= uintptr(p.elemCount) {
		return
	}

	idx := uint32(idx64)
	if p.freelist[idx] != noFree {
		// Already free: double-free or invalid pointer. Silently ignored.
		return
	}

	p.freelist[idx] = p.freeHead
	p.freeHead = idx
	p.inuse--

	diag.Debugf("smem: free idx=%d inuse=%d", idx, p.inuse)
}

// Destroy releases the backing region iff the pool owns it.
func (p *Pool) Destroy() error {
	if p == nil {
		return nil
	}

	return p.region.Release()
}

// ElemCount returns the total number of elements the pool can hold.
func (p *Pool) ElemCount() uint32 { return p.elemCount }

// ElemStride returns the per-element stride in bytes.
func (p *Pool) ElemStride() uint32 { return p.elemStride }

// InUse returns the current number of allocated elements.
func (p *Pool) InUse() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.inuse
}

// FreeCount returns the current number of free elements.
func (p *Pool) FreeCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.elemCount - p.inuse
}
