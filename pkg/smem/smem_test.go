package smem

import (
	"math/rand"
	"testing"
	"unsafe"
)

func TestCreateRejectsZeroSize(t *testing.T) {
	if _, err := Create(nil, 0, 64); err == nil {
		t.Fatal("Create with regionSize 0 should fail")
	}
}

func TestExhaustionScenario(t *testing.T) {
	const regionSize = 16 * 1024

	p, err := Create(nil, regionSize, 1024, WithAlign(32))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	n := p.ElemCount()
	if n == 0 {
		t.Fatal("ElemCount() = 0")
	}

	ptrs := make([]unsafe.Pointer, 0, n+1)

	for i := uint32(0); i < n; i++ {
		ptr := p.Alloc()
		if ptr == nil {
			t.Fatalf("alloc %d/%d unexpectedly failed", i, n)
		}

		ptrs = append(ptrs, ptr)
	}

	if extra := p.Alloc(); extra != nil {
		t.Fatal("alloc beyond elemCount should return nil")
	}

	p.Free(ptrs[0])

	if ptr := p.Alloc(); ptr == nil {
		t.Fatal("alloc after a free should succeed")
	}
}

func TestRoundTripAnyPermutation(t *testing.T) {
	p, err := Create(nil, 8*1024, 48, WithAlign(16))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	n := p.ElemCount()
	ptrs := make([]unsafe.Pointer, n)

	for i := range ptrs {
		ptrs[i] = p.Alloc()
		if ptrs[i] == nil {
			t.Fatalf("alloc %d failed", i)
		}
	}

	rand.Shuffle(len(ptrs), func(i, j int) { ptrs[i], ptrs[j] = ptrs[j], ptrs[i] })

	for _, ptr := range ptrs {
		p.Free(ptr)
	}

	if got := p.InUse(); got != 0 {
		t.Fatalf("InUse() after freeing everything = %d, want 0", got)
	}

	for i := uint32(0); i < n; i++ {
		if p.Alloc() == nil {
			t.Fatalf("re-alloc %d/%d after round trip failed", i, n)
		}
	}
}

func TestDoubleFreeScenario(t *testing.T) {
	p, err := Create(nil, 4*1024, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	ptr := p.Alloc()
	if ptr == nil {
		t.Fatal("Alloc failed")
	}

	p.Free(ptr)

	before := p.InUse()

	p.Free(ptr)

	if after := p.InUse(); after != before {
		t.Errorf("double free changed InUse from %d to %d", before, after)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	p, err := Create(nil, 4*1024, 32)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	before := p.InUse()
	p.Free(nil)

	if after := p.InUse(); after != before {
		t.Errorf("Free(nil) changed InUse from %d to %d", before, after)
	}
}

func TestZeroElemRequestedActsAsIndexGenerator(t *testing.T) {
	p, err := Create(nil, 4*1024, 0, WithAlign(16))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })

	if got := p.ElemStride(); got != 16 {
		t.Errorf("ElemStride() = %d, want align (16)", got)
	}

	if p.Alloc() == nil {
		t.Fatal("Alloc on a zero-size-element pool should still succeed")
	}
}

func TestExternalBuffer(t *testing.T) {
	buf := make([]byte, 8*1024)

	p, err := Create(buf, uint64(len(buf)), 32)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ptr := p.Alloc()
	if ptr == nil {
		t.Fatal("Alloc failed")
	}

	// Destroy on an externally-owned region must not panic or corrupt buf.
	if err := p.Destroy(); err != nil {
		t.Errorf("Destroy on external region: %v", err)
	}
}
