package downloader

import (
	"context"
	"sync"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
)

// runConcurrent fetches frags on workers goroutines while a single writer
// appends them in order. At most 2*workers fragments are held in memory.
func (c *Coordinator) runConcurrent(ctx context.Context, frags []*fragment.Fragment, workers int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := make(chan struct{}, 2*workers)
	jobs := make(chan int)
	results := make(chan fetchResult, workers)

	go func() {
		defer close(jobs)
		for pos := range frags {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobs {
				r := c.fetchWithRetry(ctx, frags[pos])
				r.pos = pos
				select {
				case results <- r:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]fetchResult, 2*workers)
	next := 0
	var err error

	for r := range results {
		if err != nil {
			continue
		}

		pending[r.pos] = r
		for {
			head, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			<-window

			if err = c.write(head); err != nil {
				cancel()
				break
			}
		}
	}

	if err != nil {
		return err
	}

	if next < len(frags) {
		return ctx.Err()
	}

	return nil
}
