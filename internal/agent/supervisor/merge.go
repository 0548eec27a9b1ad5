// Package supervisor runs agent CLI subprocesses and merges their output
// streams with injected events and cancellation into a single ordered
// event stream per chat.
package supervisor

import "sync"

// Item kinds flowing through a merge queue.
const (
	itemStdout = iota
	itemStderr
	itemOutEOF
	itemErrEOF
	itemInject
	itemCancel
)

type mergeItem struct {
	kind    int
	payload string
}

// mergeQueue is an unbounded FIFO shared by the reader goroutines, the
// inject path, and the cancel path. Producers never block; the single
// consumer blocks in pop until an item arrives.
type mergeQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []mergeItem
}

func newMergeQueue() *mergeQueue {
	q := &mergeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *mergeQueue) push(kind int, payload string) {
	q.mu.Lock()
	q.items = append(q.items, mergeItem{kind: kind, payload: payload})
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *mergeQueue) pop() mergeItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}
