// Simulates a slow file drop by writing into a watch directory in delayed
// bursts. Point -dir at one of parley's watch_dirs while the client runs to
// see the poller pick the file up, or keep -verify on to run the stability
// gate in-process and confirm it waits for the final size.
//
//	go run scripts/simulate_drop.go -dir /tmp/inbox -chunks 4 -delay 700ms
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"parley/internal/attach"
)

func main() {
	var (
		dir     = flag.String("dir", os.TempDir(), "Directory to drop the file into")
		name    = flag.String("name", "simulated-drop.bin", "File name to create")
		size    = flag.Int("size", 256<<10, "Total bytes to write")
		chunks  = flag.Int("chunks", 4, "Number of write bursts")
		delay   = flag.Duration("delay", 700*time.Millisecond, "Pause between bursts")
		settle  = flag.Duration("settle", 1500*time.Millisecond, "Settle delay for in-process verification")
		retries = flag.Int("retries", 3, "Stability retries for in-process verification")
		verify  = flag.Bool("verify", true, "Run the stability tracker against the growing file")
	)
	flag.Parse()

	if *chunks < 1 {
		*chunks = 1
	}
	path := filepath.Join(*dir, *name)
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("Failed to create drop dir: %v", err)
	}
	os.Remove(path)

	fmt.Printf("Simulating a slow drop: %s\n", path)
	fmt.Printf("  %d bytes in %d bursts, %v apart\n", *size, *chunks, *delay)

	done := make(chan error, 1)
	go func() {
		done <- writeInBursts(path, *size, *chunks, *delay)
	}()

	if *verify {
		tracker := attach.NewStabilityTracker(*settle, *retries)
		start := time.Now()
		stable, err := tracker.AwaitStable(context.Background(), path, -1)
		if err != nil {
			log.Fatalf("Stability gate rejected the file: %v", err)
		}
		fmt.Printf("Stable after %v at %d bytes\n",
			time.Since(start).Round(time.Millisecond), stable.Size)
		if stable.Size != int64(*size) {
			fmt.Printf("WARNING: declared stable at %d bytes before the final %d landed; raise -settle or -retries\n",
				stable.Size, *size)
		}
	}

	if err := <-done; err != nil {
		log.Fatalf("Write failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Fatalf("Stat failed: %v", err)
	}
	fmt.Printf("Final size on disk: %d bytes\n", info.Size())
}

func writeInBursts(path string, total, chunks int, delay time.Duration) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	burst := total / chunks
	written := 0
	for i := 0; i < chunks; i++ {
		n := burst
		if i == chunks-1 {
			n = total - written
		}
		if _, err := f.Write(make([]byte, n)); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
		written += n
		if i < chunks-1 {
			time.Sleep(delay)
		}
	}
	return nil
}
