package sched

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"

	"strideos/internal/mm"
)

const (
	// MaxSyscallNum bounds the syscall ids a task keeps counters for.
	MaxSyscallNum = 500
	// MinPriority is the smallest legal priority. A priority of 1 or 0 would
	// make the stride increment as large as (or larger than) BigStride.
	MinPriority = 2
	// MaxPriority keeps BigStride/priority from rounding down to zero for the
	// default BigStride.
	MaxPriority = 1 << 16
	// DefaultPriority is what a freshly created task runs with.
	DefaultPriority = 16
)

// ErrInvalidPriority is returned when a priority outside
// [MinPriority, MaxPriority] is requested.
var ErrInvalidPriority = errors.Newf("priority must be within [%d, %d]", MinPriority, MaxPriority)

// Pid uniquely identifies a task.
type Pid uint64

// TaskStatus is the lifecycle state of a task.
type TaskStatus uint32

const (
	UnInit TaskStatus = iota
	Ready
	Running
	Exited
)

func (s TaskStatus) String() string {
	switch s {
	case UnInit:
		return "UnInit"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Program is the user code a task runs. It executes on its own goroutine,
// but only while the processor has dispatched the task.
type Program func(t *TaskControlBlock)

// TaskControlBlock is the kernel's per-process record. Pid, Name and Memory
// are fixed at creation; everything else lives behind mu.
type TaskControlBlock struct {
	Pid    Pid
	Name   string
	Memory *mm.AddressSpace

	program Program
	resume  chan struct{}

	mu           sync.Mutex
	status       TaskStatus
	priority     int64
	stride       int64
	syscallTimes [MaxSyscallNum]uint32
	startTime    uint64
	started      bool
	exitCode     int32
}

// NewTaskControlBlock creates an UnInit task with zero stride. The priority
// is clamped into [MinPriority, MaxPriority].
func NewTaskControlBlock(pid Pid, name string, priority int64, memory *mm.AddressSpace, program Program) *TaskControlBlock {
	if priority < MinPriority {
		priority = MinPriority
	} else if priority > MaxPriority {
		priority = MaxPriority
	}

	return &TaskControlBlock{
		Pid:      pid,
		Name:     name,
		Memory:   memory,
		program:  program,
		resume:   make(chan struct{}, 1),
		status:   UnInit,
		priority: priority,
	}
}

// Token names the task's address space to the translator.
func (t *TaskControlBlock) Token() mm.Token {
	if t.Memory == nil {
		return 0
	}
	return t.Memory.Token()
}

func (t *TaskControlBlock) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsReady reports whether the task may be picked by the scheduler.
func (t *TaskControlBlock) IsReady() bool {
	return t.Status() == Ready
}

func (t *TaskControlBlock) Stride() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stride
}

func (t *TaskControlBlock) Priority() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority changes the task's scheduling weight. Out of range values are
// rejected, not clamped.
func (t *TaskControlBlock) SetPriority(priority int64) error {
	if priority < MinPriority || priority > MaxPriority {
		return errors.Wrapf(ErrInvalidPriority, "got %d", priority)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = priority
	return nil
}

// CountSyscall bumps the counter for id, saturating at MaxUint32. Ids outside
// the table are ignored.
func (t *TaskControlBlock) CountSyscall(id int) {
	if id < 0 || id >= MaxSyscallNum {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.syscallTimes[id] != math.MaxUint32 {
		t.syscallTimes[id]++
	}
}

// SyscallTimes returns a copy of the per-syscall counters.
func (t *TaskControlBlock) SyscallTimes() [MaxSyscallNum]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syscallTimes
}

// StartTime is the clock reading at first dispatch, zero before that.
func (t *TaskControlBlock) StartTime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

func (t *TaskControlBlock) ExitCode() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

func (t *TaskControlBlock) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// readyStride returns the stride and whether the task is Ready, under one lock.
func (t *TaskControlBlock) readyStride() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stride, t.status == Ready
}

// advanceStride charges the task one pass of bigStride/priority. The pass is
// at least 1 and the stride saturates instead of wrapping.
func (t *TaskControlBlock) advanceStride(bigStride int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pass := bigStride / t.priority
	if pass < 1 {
		pass = 1
	}
	if t.stride > math.MaxInt64-pass {
		t.stride = math.MaxInt64
		return
	}
	t.stride += pass
}

// markRunning flips the task to Running and records the start time on first
// dispatch. It reports whether this was the first dispatch.
func (t *TaskControlBlock) markRunning(now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Running
	if t.started {
		return false
	}
	t.started = true
	t.startTime = now
	return true
}

func (t *TaskControlBlock) markExited(code int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Exited
	t.exitCode = code
}
