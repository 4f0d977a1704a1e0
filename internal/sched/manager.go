// internal/sched/manager.go

package sched

import (
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
)

// DefaultBigStride is the pass numerator shared by every task.
const DefaultBigStride = 1 << 16

// Manager is the ready queue of a stride scheduler. Every fetch hands out
// the Ready task with the smallest accumulated stride and charges it
// BigStride/priority before returning it.
type Manager struct {
	mu        sync.Mutex      // protects the queue across a whole fetch
	bigStride int64           // pass numerator
	ready     *arraylist.List // *TaskControlBlock in arrival order
}

// NewManager creates an empty ready queue. A non-positive bigStride falls
// back to DefaultBigStride.
func NewManager(bigStride int64) *Manager {
	if bigStride <= 0 {
		bigStride = DefaultBigStride
	}
	return &Manager{
		bigStride: bigStride,
		ready:     arraylist.New(),
	}
}

// BigStride returns the pass numerator in use.
func (m *Manager) BigStride() int64 { return m.bigStride }

// Add appends a task to the ready queue.
func (m *Manager) Add(t *TaskControlBlock) {
	if t == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready.Add(t)
}

// Fetch removes and returns the Ready task with the minimum stride, or nil
// when no queued task is Ready. Ties go to the task queued first. Queued
// tasks that are not Ready are skipped and stay queued.
func (m *Manager) Fetch() *TaskControlBlock {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := -1
	var minStride int64
	it := m.ready.Iterator()
	for it.Next() {
		stride, ok := it.Value().(*TaskControlBlock).readyStride()
		if !ok {
			continue
		}
		if index == -1 || stride < minStride {
			index, minStride = it.Index(), stride
		}
	}
	if index == -1 {
		return nil
	}

	v, _ := m.ready.Get(index)
	m.ready.Remove(index)
	t := v.(*TaskControlBlock)
	t.advanceStride(m.bigStride)
	return t
}

// Len returns the number of queued tasks, Ready or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready.Size()
}
