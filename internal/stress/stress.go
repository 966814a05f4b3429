// Package stress drives randomized concurrent alloc/free workloads
// against a pool, the Go stand-in for the original's external stress-test
// driver fixture. It exercises whatever mutex discipline the pool under
// test already provides; it does not add any locking of its own.
package stress

import (
	"context"
	"math/rand"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// Config controls one randomized run.
type Config struct {
	// Workers is the number of concurrent goroutines. Values <= 0 are
	// treated as 1.
	Workers int
	// OpsPerWorker is the number of alloc/free decisions each worker makes.
	OpsPerWorker int
	// Seed seeds each worker's private random source (offset by worker
	// index), so a run is reproducible.
	Seed int64
	// MaxSize bounds the random size passed to alloc. Values <= 0 default
	// to 256.
	MaxSize int
}

// Result summarizes a completed run.
type Result struct {
	Allocs int64
	Frees  int64
}

// Run starts cfg.Workers goroutines under an errgroup, each performing
// cfg.OpsPerWorker random alloc-or-free decisions, then freeing anything
// it still holds before returning. alloc and free are expected to be
// callable concurrently without additional synchronization (true of both
// pkg/smem.Pool and pkg/mmem.Pool). Run returns the first worker error (only
// possible via ctx cancellation) and the combined operation counts.
func Run(ctx context.Context, cfg Config, alloc func(size uint64) unsafe.Pointer, free func(unsafe.Pointer)) (Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 256
	}

	var (
		mu            sync.Mutex
		allocs, frees int64
	)

	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		w := w

		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))

			held := make([]unsafe.Pointer, 0, 64)

			var localAllocs, localFrees int64

			for i := 0; i < cfg.OpsPerWorker; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				if len(held) == 0 || rng.Intn(2) == 0 {
					size := uint64(rng.Intn(maxSize) + 1)
					if ptr := alloc(size); ptr != nil {
						held = append(held, ptr)
						localAllocs++
					}
				} else {
					j := rng.Intn(len(held))
					free(held[j])
					held[j] = held[len(held)-1]
					held = held[:len(held)-1]
					localFrees++
				}
			}

			for _, ptr := range held {
				free(ptr)
				localFrees++
			}

			mu.Lock()
			allocs += localAllocs
			frees += localFrees
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{Allocs: allocs, Frees: frees}, nil
}
