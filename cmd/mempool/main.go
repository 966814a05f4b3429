// Command mempool is a small driver over the slab and buddy allocators,
// the Go stand-in for the original's command-line harness: run a demo
// allocation workload against one or the other pool and report on it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/mempool/internal/diag"
	"github.com/orizon-lang/mempool/pkg/mmem"
	"github.com/orizon-lang/mempool/pkg/smem"
)

// version is the driver's own release version, independent of the
// allocators it exercises.
const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mempool", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		showVersion bool
		showHelp    bool
		debugLevel  int
		smemSpec    string
		mmemSpec    string
		configPath  string
	)

	fs.BoolVar(&showVersion, "v", false, "print the version and exit")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")
	fs.BoolVar(&showHelp, "h", false, "print usage and exit")
	fs.BoolVar(&showHelp, "help", false, "print usage and exit")
	fs.IntVar(&debugLevel, "d", int(diag.Warning), "diagnostics level: -1 emerg, 0 verbose, 1 warning, 2 info, 3 debug")
	fs.IntVar(&debugLevel, "debug", int(diag.Warning), "diagnostics level: -1 emerg, 0 verbose, 1 warning, 2 info, 3 debug")
	fs.StringVar(&smemSpec, "s", "", "run the slab allocator demo: regionBytes:elemSize")
	fs.StringVar(&smemSpec, "smem", "", "run the slab allocator demo: regionBytes:elemSize")
	fs.StringVar(&mmemSpec, "m", "", "run the buddy allocator demo: regionBytes:orderMin:orderMax")
	fs.StringVar(&mmemSpec, "mmem", "", "run the buddy allocator demo: regionBytes:orderMin:orderMax")
	fs.StringVar(&configPath, "c", "", "path to a file whose contents are re-read as the debug level on every write")
	fs.StringVar(&configPath, "config", "", "path to a file whose contents are re-read as the debug level on every write")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: mempool [-s regionBytes:elemSize] [-m regionBytes:orderMin:orderMax] [-d level] [-c path] [-v] [-h]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showHelp {
		fs.Usage()

		return 0
	}

	if showVersion {
		v, err := semver.NewVersion(version)
		if err != nil {
			fmt.Fprintln(stderr, err)

			return 1
		}

		fmt.Fprintln(stdout, "mempool", v.String())

		return 0
	}

	diag.SetLevel(diag.Level(debugLevel))

	if configPath != "" {
		stop, err := watchDebugLevel(configPath, stderr)
		if err != nil {
			fmt.Fprintln(stderr, "config watch:", err)

			return 1
		}

		defer stop()
	}

	ran := false

	if smemSpec != "" {
		ran = true

		if err := runSmem(smemSpec, stdout); err != nil {
			fmt.Fprintln(stderr, err)

			return 1
		}
	}

	if mmemSpec != "" {
		ran = true

		if err := runMmem(mmemSpec, stdout); err != nil {
			fmt.Fprintln(stderr, err)

			return 1
		}
	}

	if !ran {
		fs.Usage()

		return 2
	}

	return 0
}

func runSmem(spec string, stdout io.Writer) error {
	regionBytes, elemSize, err := parsePair(spec)
	if err != nil {
		return fmt.Errorf("smem spec %q: %w", spec, err)
	}

	p, err := smem.Create(nil, regionBytes, uint32(elemSize))
	if err != nil {
		return err
	}
	defer p.Destroy()

	var held []unsafe.Pointer

	for p.InUse() < p.ElemCount() {
		ptr := p.Alloc()
		if ptr == nil {
			break
		}

		held = append(held, ptr)
	}

	fmt.Fprintf(stdout, "smem: elemCount=%d elemStride=%d allocated=%d\n", p.ElemCount(), p.ElemStride(), len(held))

	for _, ptr := range held {
		p.Free(ptr)
	}

	fmt.Fprintf(stdout, "smem: freeCount after drain=%d\n", p.FreeCount())

	return nil
}

func runMmem(spec string, stdout io.Writer) error {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return fmt.Errorf("mmem spec %q: want regionBytes:orderMin:orderMax", spec)
	}

	regionBytes, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("mmem spec %q: %w", spec, err)
	}

	orderMin, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("mmem spec %q: %w", spec, err)
	}

	orderMax, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return fmt.Errorf("mmem spec %q: %w", spec, err)
	}

	p, err := mmem.Create(nil, regionBytes, uint32(orderMin), uint32(orderMax))
	if err != nil {
		return err
	}
	defer p.Destroy()

	fmt.Fprintf(stdout, "mmem: created regionBytes=%d orderMin=%d orderMax=%d remaining=%d\n",
		regionBytes, orderMin, orderMax, p.RemainingBytes())

	ptr := p.Alloc(regionBytes / 4)
	if ptr != nil {
		fmt.Fprintf(stdout, "mmem: allocated remaining=%d\n", p.RemainingBytes())
		p.Free(ptr)
	}

	if err := p.Dump(); err != nil {
		return fmt.Errorf("mmem: consistency check failed: %w", err)
	}

	fmt.Fprintf(stdout, "mmem: final remaining=%d\n", p.RemainingBytes())

	return nil
}

func parsePair(spec string) (uint64, uint64, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want regionBytes:elemSize")
	}

	a, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}

	b, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}

	return a, b, nil
}

// watchDebugLevel watches path for writes and re-reads its first line as
// a diag.Level on every change, returning a function that stops the
// watch. This is a best-effort convenience for long-running demo
// sessions; it is never required for correct operation.
func watchDebugLevel(path string, stderr io.Writer) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		_ = w.Close()

		return nil, err
	}

	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				lvl, err := readLevel(path)
				if err != nil {
					fmt.Fprintln(stderr, "config watch: reload failed:", err)

					continue
				}

				diag.SetLevel(lvl)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}

				fmt.Fprintln(stderr, "config watch error:", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}, nil
}

func readLevel(path string) (diag.Level, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty config file")
	}

	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, err
	}

	return diag.Level(n), nil
}
