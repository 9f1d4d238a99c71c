// Package queue provides the unbounded FIFO queues connecting traversal
// producers to the single persistence consumer.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/nrsyed/proboards-scraper/internal/forum"
)

// Queue is an unbounded FIFO of scraped items. Any number of producers
// may Put concurrently; exactly one consumer calls Get. A nil item is
// the end-of-stream sentinel: producers push it once all their work is
// done, and the consumer treats it as "no more items will arrive".
type Queue struct {
	mu    sync.Mutex
	items []forum.Item
	// wake has capacity 1; Put signals it without blocking and Get
	// re-checks the buffer after every wakeup. Correct only for a
	// single consumer, which is all the dispatcher protocol allows.
	wake chan struct{}
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Put appends an item to the queue. It never blocks. Put(nil) pushes
// the sentinel.
func (q *Queue) Put(item forum.Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Get pops the oldest item, blocking until one is available or the
// context ends. A nil item with nil error is the sentinel.
func (q *Queue) Get(ctx context.Context) (forum.Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("queue get canceled: %w", ctx.Err())
		case <-q.wake:
		}
	}
}

// Len reports the number of queued items, sentinel included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
