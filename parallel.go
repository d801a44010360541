package secvault

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls parallel rekeying of large vaults
type ParallelConfig struct {
	// Enabled enables parallel rekeying
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinBytesForParallel is the minimum vault size to use parallel processing
	// Below this threshold, sequential processing is used
	// Defaults to 64 KiB
	MinBytesForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil // Nothing to validate if disabled
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinBytesForParallel < 1 {
		return errors.New("parallel min bytes threshold must be at least 1")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinBytesForParallel: 64 * 1024,
	}
}

// rekeySegment is one contiguous range handed to a worker
type rekeySegment struct {
	start int
	end   int
}

// rekeyBuffer rekeys src into dst, splitting the work across goroutines
// when the buffer is large enough. The result is identical to Rekey.
func rekeyBuffer(dst, src, oldKey, newKey []byte, cfg ParallelConfig) error {
	n := min(len(dst), len(src))
	if n == 0 {
		return nil
	}

	if !cfg.Enabled || n < cfg.MinBytesForParallel {
		Rekey(dst[:n], src[:n], 0, oldKey, newKey)
		return nil
	}

	// Determine number of workers
	numWorkers := cfg.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > n {
		numWorkers = n
	}

	segSize := (n + numWorkers - 1) / numWorkers
	var segments []rekeySegment
	for start := 0; start < n; start += segSize {
		segments = append(segments, rekeySegment{start: start, end: min(start+segSize, n)})
	}

	var wg sync.WaitGroup
	jobChan := make(chan rekeySegment, len(segments))
	errChan := make(chan error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic in rekey worker: %v", r)
					select {
					case errChan <- err:
					default:
					}
				}
			}()
			for seg := range jobChan {
				Rekey(dst[seg.start:seg.end], src[seg.start:seg.end], int64(seg.start), oldKey, newKey)
			}
		}()
	}

	for _, seg := range segments {
		jobChan <- seg
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}
