// Package mmem implements the buddy allocator (MMEM): a power-of-two
// size-class allocator over one contiguous byte region, using a
// boundary-tag + per-order free-list scheme with buddy splitting and
// coalescing.
//
// Every chunk begins with a boundary tag (two machine words: psize and
// csize) directly inside the region's bytes. Free chunks additionally
// overlay an intrusive list.Node on the first bytes of their payload
// area; in-use chunks reclaim those bytes for the caller. The region as a
// whole is kept alive by the owning Pool, so pointer arithmetic into it
// (rather than tracking Go pointers the garbage collector can see) is
// safe: no sub-allocation within the region is ever collected
// independently of the region itself.
package mmem

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/orizon-lang/mempool/internal/diag"
	"github.com/orizon-lang/mempool/internal/errors"
	"github.com/orizon-lang/mempool/internal/list"
	"github.com/orizon-lang/mempool/internal/region"
)

// chunkHeader is the boundary tag at the start of every chunk. csize and
// psize hold a byte size in their high bits and flags in their low two
// bits (sizes are always >= 1KiB, so those bits are otherwise unused).
type chunkHeader struct {
	psize uint64
	csize uint64
}

const (
	flagInuse uint64 = 1 << 0
	flagLast  uint64 = 1 << 1
	flagsMask uint64 = flagInuse | flagLast
)

// overhead is the number of header bytes preceding every chunk's payload,
// derived symbolically from chunkHeader rather than hard-coded: the
// original's literal 16 is just this exact boundary-tag layout's size on
// a 64-bit machine.
const overhead = unsafe.Sizeof(chunkHeader{})

// chunkBytes returns the byte size of an order-k chunk.
func chunkBytes(order uint32) uint64 {
	return uint64(1) << (order + 10)
}

// byte2order maps a byte count to the smallest KiB-log2 order that covers
// it, or -1 for a zero byte count (the original's documented, guarded
// quirk: callers must check for a negative order before using it as an
// index).
func byte2order(bytes uint64) int32 {
	if bytes == 0 {
		return -1
	}

	h := bits.Len64(bytes) - 1
	if bytes&((uint64(1)<<uint(h))-1) != 0 {
		h++
	}

	switch {
	case h == 0:
		return -1
	case h <= 10:
		return 0
	default:
		return int32(h - 10)
	}
}

func chunkSize(c *chunkHeader) uint64  { return c.csize &^ flagsMask }
func chunkPSize(c *chunkHeader) uint64 { return c.psize &^ flagsMask }
func isInuse(c *chunkHeader) bool      { return c.csize&flagInuse != 0 }
func isLast(c *chunkHeader) bool       { return c.csize&flagLast != 0 }

func nextChunk(c *chunkHeader) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(c)) + uintptr(chunkSize(c))))
}

func prevChunk(c *chunkHeader) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(c)) - uintptr(chunkPSize(c))))
}

func payloadOf(c *chunkHeader) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(c)) + overhead)
}

func chunkFromPayload(ptr unsafe.Pointer) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(uintptr(ptr) - overhead))
}

func nodeOf(c *chunkHeader) *list.Node {
	return (*list.Node)(unsafe.Pointer(uintptr(unsafe.Pointer(c)) + overhead))
}

func chunkFromNode(n *list.Node) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - overhead))
}

// freeOrder is one entry of the per-order free-area array: an intrusive
// list of free chunks of that order plus a redundant length counter kept
// in lockstep, so Dump can cross-check the two against each other.
type freeOrder struct {
	head   list.Node
	nrFree uint32
}

// Pool is a buddy allocator handle.
type Pool struct {
	mu sync.Mutex

	region *region.Region

	freeArea           []freeOrder
	orderMin, orderMax uint32
}

// Create builds a buddy pool over buf (if non-nil) or a self-allocated
// region of regionSize bytes, spanning orders [orderMin, orderMax]
// (KiB-log2 exponents; order k spans 2^(k+10) bytes). Create fails if
// regionSize is 0, isn't a multiple of the smallest chunk size, or
// orderMin > orderMax.
func Create(buf []byte, regionSize uint64, orderMin, orderMax uint32) (*Pool, error) {
	if regionSize == 0 {
		return nil, errors.InvalidSize(uintptr(regionSize), "mmem.Create")
	}

	if orderMin > orderMax {
		return nil, errors.InvalidOrderRange(orderMin, orderMax)
	}

	unit := chunkBytes(orderMin)
	if regionSize%unit != 0 {
		return nil, errors.InvalidSize(uintptr(regionSize), "mmem.Create: region size must be a multiple of the smallest chunk size")
	}

	reg, err := region.New(buf, regionSize)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		region:   reg,
		orderMin: orderMin,
		orderMax: orderMax,
		freeArea: make([]freeOrder, orderMax-orderMin+1),
	}

	for i := range p.freeArea {
		list.Init(&p.freeArea[i].head)
	}

	if p.tile(p.chunkAt(0), regionSize, 0, true) == nil {
		_ = reg.Release()

		return nil, errors.InvalidSize(uintptr(regionSize), "mmem.Create: region too small for a single minimum-order chunk")
	}

	diag.Debugf("mmem: created pool regionSize=%d orderMin=%d orderMax=%d", regionSize, orderMin, orderMax)

	return p, nil
}

func (p *Pool) base() unsafe.Pointer { return unsafe.Pointer(&p.region.Bytes[0]) }

func (p *Pool) chunkAt(offset uintptr) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(uintptr(p.base()) + offset))
}

func (p *Pool) offsetOf(c *chunkHeader) uintptr {
	return uintptr(unsafe.Pointer(c)) - uintptr(p.base())
}

func (p *Pool) pushFree(order uint32, c *chunkHeader) {
	area := &p.freeArea[order-p.orderMin]
	list.AddTail(&area.head, nodeOf(c))
	area.nrFree++
}

func (p *Pool) removeFree(order uint32, c *chunkHeader) {
	area := &p.freeArea[order-p.orderMin]
	list.Del(nodeOf(c))
	area.nrFree--
}

// tile greedily carves [start, start+total) into maximal power-of-two
// chunks from order_max down to order_min, linking each piece's psize to
// its physical predecessor and pushing every piece onto its free-area
// list. incomingPSize is stamped onto the very first piece only (it
// mirrors whatever lies immediately before start, which this call never
// touches). When markLast is true the final piece placed is flagged
// C_LAST. The same greedy binary-decomposition loop serves both the
// pool's initial population and the post-coalesce resplit a free() can
// require when merging produces a chunk bigger than a single order_max
// chunk. Returns the last piece placed, or nil if total doesn't tile down
// to a whole number of order_min chunks.
func (p *Pool) tile(start *chunkHeader, total, incomingPSize uint64, markLast bool) *chunkHeader {
	if total == 0 {
		return nil
	}

	piece := start
	remaining := total
	prevSize := incomingPSize
	first := true

	for order := p.orderMax; ; order-- {
		size := chunkBytes(order)
		for remaining >= size {
			piece.csize = size
			if first {
				piece.psize = incomingPSize
				first = false
			} else {
				piece.psize = prevSize
			}

			remaining -= size
			prevSize = size

			if remaining == 0 {
				if markLast {
					piece.csize |= flagLast
				}

				p.pushFree(order, piece)

				return piece
			}

			p.pushFree(order, piece)

			piece = nextChunk(piece)
		}

		if order == p.orderMin {
			break
		}
	}

	return nil
}

// Alloc returns a pointer to a chunk of at least size bytes (plus the
// boundary-tag overhead), or nil if the request is out of range or no
// free chunk is large enough.
func (p *Pool) Alloc(size uint64) unsafe.Pointer {
	if p == nil {
		return nil
	}

	size += uint64(overhead)

	k := byte2order(size)
	if k < 0 || uint32(k) < p.orderMin || uint32(k) > p.orderMax {
		return nil
	}

	order := uint32(k)

	p.mu.Lock()
	defer p.mu.Unlock()

	for j := order; j <= p.orderMax; j++ {
		area := &p.freeArea[j-p.orderMin]
		if area.nrFree == 0 {
			continue
		}

		node := list.First(&area.head)
		c := chunkFromNode(node)
		list.Del(node)
		area.nrFree--

		p.expand(c, order, j)
		diag.Debugf("mmem: alloc size=%d order=%d from_order=%d", size, order, j)

		return payloadOf(c)
	}

	diag.Infof("mmem: alloc size=%d order=%d failed, no free chunk", size, order)

	return nil
}

// expand splits c (of order high) down to order low, pushing each
// resulting buddy onto its free-area list. C_LAST, if c carried it, is
// re-set on the right-most descendant at each split step (matching the
// source exactly, rather than being recomputed from offsets).
func (p *Pool) expand(c *chunkHeader, low, high uint32) {
	lastChunk := isLast(c)

	c.csize |= flagInuse
	if lastChunk {
		c.csize |= flagLast
	} else {
		nextChunk(c).psize |= flagInuse
	}

	for high > low {
		high--

		half := chunkBytes(high)
		c.csize = half | flagInuse

		buddy := nextChunk(c)
		buddy.psize = half | flagInuse
		buddy.csize = half

		if lastChunk {
			buddy.csize |= flagLast
			lastChunk = false
		} else {
			nextChunk(buddy).psize = half
		}

		p.pushFree(high, buddy)
	}
}

// Free returns ptr, previously returned by Alloc, to the pool. A nil ptr
// is a no-op. A ptr whose chunk is not currently marked in-use
// (double-free or an invalid pointer) is silently ignored.
func (p *Pool) Free(ptr unsafe.Pointer) {
	if p == nil || ptr == nil {
		return
	}

	cur := chunkFromPayload(ptr)
	if !isInuse(cur) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Backward coalesce: absorb a free predecessor, unless it is already
	// at order_max (cannot grow further) or there is no predecessor.
	for cur.psize != 0 && cur.psize&flagInuse == 0 {
		prevOrder := uint32(byte2order(chunkPSize(cur)))
		if prevOrder == p.orderMax {
			break
		}

		prev := prevChunk(cur)
		p.removeFree(prevOrder, prev)

		flags := cur.csize & flagsMask
		prev.csize = (chunkSize(prev) + chunkSize(cur)) | flags | flagInuse
		cur = prev
	}

	if isLast(cur) {
		p.publishFree(cur)

		return
	}

	nextChunk(cur).psize = cur.csize

	// Forward coalesce: absorb a free successor, unless it is already at
	// order_max or cur has become the last chunk.
	for {
		nxt := nextChunk(cur)
		if isInuse(nxt) {
			break
		}

		nextOrder := uint32(byte2order(chunkSize(nxt)))
		if nextOrder == p.orderMax {
			break
		}

		wasLast := isLast(nxt)
		p.removeFree(nextOrder, nxt)

		cur.csize = (chunkSize(cur) + chunkSize(nxt)) | flagInuse

		if wasLast {
			cur.csize |= flagLast

			break
		}

		nextChunk(cur).psize = cur.csize
	}

	p.publishFree(cur)
}

// publishFree clears cur's in-use flag and returns it to its free-area
// list. Coalescing absorbs any free neighbour below order_max, so cur can
// end up with a size that is not a single power-of-two chunk, or larger
// than an order_max chunk; such a chunk is re-tiled into canonical orders
// instead.
func (p *Pool) publishFree(cur *chunkHeader) {
	size := chunkSize(cur)
	wasLast := isLast(cur)
	incoming := cur.psize

	maxBytes := chunkBytes(p.orderMax)
	if size <= maxBytes && size&(size-1) == 0 {
		order := uint32(byte2order(size))

		cur.csize = size
		if wasLast {
			cur.csize |= flagLast
		}

		p.pushFree(order, cur)

		if !wasLast {
			nextChunk(cur).psize = size
		}

		diag.Debugf("mmem: free order=%d size=%d", order, size)

		return
	}

	last := p.tile(cur, size, incoming, wasLast)
	if !wasLast && last != nil {
		nextChunk(last).psize = chunkSize(last)
	}

	diag.Debugf("mmem: free resplit size=%d", size)
}

// RemainingBytes returns the total free bytes across every order.
func (p *Pool) RemainingBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total uint64
	for i, area := range p.freeArea {
		order := p.orderMin + uint32(i)
		total += uint64(area.nrFree) << (order + 10)
	}

	return total
}

// Dump audits the region's structural invariants: exactly one C_LAST
// chunk, matching boundary tags between neighbours, agreeing C_INUSE
// mirrors, and free-area list lengths matching their declared nr_free
// counters. It returns a non-nil *errors.StandardError describing the
// first violation found, rather than aborting the process: callers
// decide how to react to a corrupted heap.
func (p *Pool) Dump() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	declared := make([]uint32, len(p.freeArea))
	for i, area := range p.freeArea {
		declared[i] = area.nrFree
	}

	observed := make([]uint32, len(p.freeArea))
	lastCount := 0

	c := p.chunkAt(0)

	for {
		size := chunkSize(c)
		if size == 0 {
			return errors.InvariantViolation("chunk with zero size", map[string]interface{}{"offset": p.offsetOf(c)})
		}

		if !isInuse(c) {
			order := byte2order(size)
			if order < 0 || uint32(order) < p.orderMin || uint32(order) > p.orderMax {
				return errors.InvariantViolation("free chunk size does not map to a valid order", map[string]interface{}{"size": size, "offset": p.offsetOf(c)})
			}

			observed[uint32(order)-p.orderMin]++
		}

		if isLast(c) {
			lastCount++

			break
		}

		nxt := nextChunk(c)
		if size != chunkPSize(nxt) {
			return errors.InvariantViolation("chunk size disagrees with next chunk's psize mirror", map[string]interface{}{"csize": size, "next_psize": chunkPSize(nxt), "offset": p.offsetOf(c)})
		}

		if (c.csize&flagInuse != 0) != (nxt.psize&flagInuse != 0) {
			return errors.InvariantViolation("C_INUSE mirror mismatch between chunk and its neighbour", map[string]interface{}{"offset": p.offsetOf(c)})
		}

		c = nxt
	}

	if lastCount != 1 {
		return errors.InvariantViolation("expected exactly one C_LAST chunk", map[string]interface{}{"last_count": lastCount})
	}

	for i := range declared {
		if declared[i] != observed[i] {
			return errors.InvariantViolation("declared nr_free disagrees with observed free-list length", map[string]interface{}{"order": p.orderMin + uint32(i), "declared": declared[i], "observed": observed[i]})
		}
	}

	return nil
}

// Destroy releases the backing region iff the pool owns it.
func (p *Pool) Destroy() error {
	if p == nil {
		return nil
	}

	return p.region.Release()
}

// OrderMin returns the smallest order this pool serves.
func (p *Pool) OrderMin() uint32 { return p.orderMin }

// OrderMax returns the largest order this pool serves.
func (p *Pool) OrderMax() uint32 { return p.orderMax }
