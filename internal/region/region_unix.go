//go:build linux || darwin

package region

import "golang.org/x/sys/unix"

// allocate acquires n bytes via an anonymous mmap rather than a Go-GC
// owned slice, so a self-allocated region genuinely lives outside the
// host allocator's bookkeeping. release reverses it with munmap.
func allocate(n uint64) ([]byte, func([]byte) error, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}

	release := func(buf []byte) error {
		return unix.Munmap(buf)
	}

	return b, release, nil
}
