package ledger

import (
	"context"
	"sort"
	"sync"
)

// lockTable grants exclusive ownership of named partitions. Acquisition is
// all-or-nothing: a caller waits until every requested name is free, then
// takes them together, so two callers with overlapping sets cannot deadlock.
type lockTable struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]bool
}

func newLockTable() *lockTable {
	t := &lockTable{held: make(map[string]bool)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *lockTable) with(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names = dedupe(names)
	t.acquire(names)
	defer t.release(names)

	return fn(ctx)
}

func (t *lockTable) acquire(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.free(names) {
			for _, name := range names {
				t.held[name] = true
			}
			return
		}
		t.cond.Wait()
	}
}

func (t *lockTable) release(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range names {
		delete(t.held, name)
	}
	t.cond.Broadcast()
}

func (t *lockTable) free(names []string) bool {
	for _, name := range names {
		if t.held[name] {
			return false
		}
	}
	return true
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, name := range names {
		if i == 0 || name != names[i-1] {
			out = append(out, name)
		}
	}
	return out
}
