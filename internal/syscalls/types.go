package syscalls

import "strideos/internal/sched"

// TimeVal is what get_time writes to user memory: 16 bytes, little-endian.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// Micros folds the record back into a microsecond reading.
func (tv TimeVal) Micros() uint64 { return tv.Sec*1_000_000 + tv.Usec }

// TaskInfo is what task_info writes to user memory: status, the per-syscall
// counters and the elapsed running time in milliseconds, packed
// little-endian (2012 bytes).
type TaskInfo struct {
	Status       uint32
	SyscallTimes [sched.MaxSyscallNum]uint32
	Time         uint64
}

const (
	// FaultExitCode is the exit code of a task killed for touching memory
	// it does not have.
	FaultExitCode = -2

	// maxWrite bounds a single write call.
	maxWrite = 1 << 20
)
