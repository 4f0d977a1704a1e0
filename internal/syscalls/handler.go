package syscalls

import (
	"io"
	"log/slog"

	"strideos/internal/mm"
	"strideos/internal/sched"
	"strideos/internal/timer"
)

// Handler is the syscall surface. Every entry point runs on behalf of the
// processor's current task and reaches user memory only through the
// translator, using the current task's token.
type Handler struct {
	proc    *sched.Processor
	tr      mm.Translator
	clock   timer.Clock
	console io.Writer
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithConsole sets where writes to fd 1 go.
func WithConsole(w io.Writer) Option {
	return func(h *Handler) { h.console = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates the syscall surface for proc. Time comes from the
// processor's clock.
func NewHandler(proc *sched.Processor, tr mm.Translator, opts ...Option) *Handler {
	h := &Handler{
		proc:    proc,
		tr:      tr,
		clock:   proc.Clock(),
		console: io.Discard,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Dispatch is the syscall entry: it counts the call against the current
// task, runs it and returns its result. A task whose timeslice ran out
// during the call is preempted before Dispatch returns, as if the timer had
// fired on the way back to user mode.
func (h *Handler) Dispatch(id ID, args [3]uint64) int64 {
	cur := h.proc.Current()
	if cur == nil {
		h.logger.Error("syscall with no running task", "syscall", id.String())
		return -1
	}
	cur.CountSyscall(int(id))
	h.metrics.Calls.WithLabelValues(id.label()).Inc()

	var ret int64
	switch id {
	case SysWrite:
		ret = h.SysWrite(args[0], mm.VirtAddr(args[1]), args[2])
	case SysExit:
		h.SysExit(int32(args[0]))
	case SysYield:
		ret = h.SysYield()
	case SysSetPriority:
		ret = h.SysSetPriority(int64(args[0]))
	case SysGetTime:
		ret = h.SysGetTime(mm.VirtAddr(args[0]), args[1])
	case SysGetPid:
		ret = h.SysGetPid()
	case SysSbrk:
		ret = h.SysSbrk(int32(args[0]))
	case SysMunmap:
		ret = h.SysMunmap(args[0], args[1])
	case SysMmap:
		ret = h.SysMmap(args[0], args[1], args[2])
	case SysTaskInfo:
		ret = h.SysTaskInfo(mm.VirtAddr(args[0]))
	default:
		h.logger.Warn("unsupported syscall", "pid", cur.Pid, "syscall", int(id))
		ret = -1
	}
	if ret < 0 {
		h.metrics.Errors.WithLabelValues(id.label()).Inc()
	}

	if h.proc.SliceExpired() {
		h.proc.PreemptCurrentAndRunNext()
	}
	return ret
}

// current returns the running task. Entry points are only legal while a
// task runs, so a missing one is a kernel bug.
func (h *Handler) current() *sched.TaskControlBlock {
	cur := h.proc.Current()
	if cur == nil {
		panic("syscalls: no running task")
	}
	return cur
}

// Fault kills t for an access its address space cannot satisfy. It never returns.
func (h *Handler) Fault(t *sched.TaskControlBlock, err error) {
	h.logger.Warn("page fault in application, kernel killed it", "pid", t.Pid, "name", t.Name, "err", err)
	h.proc.ExitCurrentAndRunNext(FaultExitCode)
}

// SysExit ends the current task with code and never returns.
func (h *Handler) SysExit(code int32) {
	cur := h.current()
	h.logger.Debug("kernel: sys_exit", "pid", cur.Pid, "code", code)
	h.proc.ExitCurrentAndRunNext(code)
	panic("unreachable in sys_exit")
}

// SysYield gives up the rest of the timeslice and returns 0 once the task
// is scheduled again.
func (h *Handler) SysYield() int64 {
	h.logger.Debug("kernel: sys_yield", "pid", h.current().Pid)
	h.proc.SuspendCurrentAndRunNext()
	return 0
}

// SysGetTime writes the current time to ts. tz is ignored.
func (h *Handler) SysGetTime(ts mm.VirtAddr, _ uint64) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_get_time", "pid", cur.Pid)

	us := h.clock.NowMicros()
	tv := TimeVal{Sec: us / 1_000_000, Usec: us % 1_000_000}
	if err := mm.CopyOut(h.tr, cur.Token(), ts, &tv); err != nil {
		h.Fault(cur, err)
	}
	return 0
}

// SysTaskInfo writes the current task's status, syscall counters and
// elapsed time in milliseconds to ti. The call itself has already been
// counted by Dispatch.
func (h *Handler) SysTaskInfo(ti mm.VirtAddr) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_task_info", "pid", cur.Pid)

	info := TaskInfo{
		Status:       uint32(cur.Status()),
		SyscallTimes: cur.SyscallTimes(),
		Time:         (h.clock.NowMicros() - cur.StartTime()) / 1000,
	}
	if err := mm.CopyOut(h.tr, cur.Token(), ti, &info); err != nil {
		h.Fault(cur, err)
	}
	return 0
}

// SysMmap maps len bytes at start with permissions port (bit 0 read, bit 1
// write, bit 2 execute). It returns the number of bytes mapped, 0 for a
// zero length, or -1.
func (h *Handler) SysMmap(start, length, port uint64) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_mmap", "pid", cur.Pid, "start", start, "len", length, "port", port)

	if !mm.VirtAddr(start).Aligned() {
		return -1
	}
	if port&^uint64(mm.PortMask) != 0 || port&uint64(mm.PortMask) == 0 {
		return -1
	}
	if length == 0 {
		return 0
	}
	if cur.Memory == nil {
		return -1
	}
	n, err := cur.Memory.Mmap(mm.VirtAddr(start), length, mm.Perm(port))
	if err != nil {
		h.logger.Debug("mmap rejected", "pid", cur.Pid, "err", err)
		return -1
	}
	return int64(n)
}

// SysMunmap unmaps len bytes at start. It returns the number of bytes
// unmapped, 0 for a zero length, or -1.
func (h *Handler) SysMunmap(start, length uint64) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_munmap", "pid", cur.Pid, "start", start, "len", length)

	if !mm.VirtAddr(start).Aligned() {
		return -1
	}
	if length == 0 {
		return 0
	}
	if cur.Memory == nil {
		return -1
	}
	n, err := cur.Memory.Munmap(mm.VirtAddr(start), length)
	if err != nil {
		h.logger.Debug("munmap rejected", "pid", cur.Pid, "err", err)
		return -1
	}
	return int64(n)
}

// SysSbrk moves the program break by size and returns the previous break, or -1.
func (h *Handler) SysSbrk(size int32) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_sbrk", "pid", cur.Pid, "size", size)

	if cur.Memory == nil {
		return -1
	}
	old, err := cur.Memory.ChangeBrk(size)
	if err != nil {
		h.logger.Debug("sbrk rejected", "pid", cur.Pid, "err", err)
		return -1
	}
	return int64(old)
}

// SysSetPriority sets the current task's priority and returns it, or -1 for
// a priority outside [2, 65536].
func (h *Handler) SysSetPriority(prio int64) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_set_priority", "pid", cur.Pid, "prio", prio)

	if err := cur.SetPriority(prio); err != nil {
		return -1
	}
	return prio
}

func (h *Handler) SysGetPid() int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_getpid", "pid", cur.Pid)
	return int64(cur.Pid)
}

// SysWrite copies length bytes at buf to the console. Only fd 1 is supported.
func (h *Handler) SysWrite(fd uint64, buf mm.VirtAddr, length uint64) int64 {
	cur := h.current()
	h.logger.Debug("kernel: sys_write", "pid", cur.Pid, "fd", fd, "len", length)

	if fd != 1 || length > maxWrite {
		return -1
	}
	data, err := mm.CopyIn(h.tr, cur.Token(), buf, int(length))
	if err != nil {
		h.Fault(cur, err)
	}
	n, err := h.console.Write(data)
	if err != nil {
		h.logger.Warn("console write failed", "pid", cur.Pid, "err", err)
		return -1
	}
	return int64(n)
}

// Metrics returns the handler's collectors.
func (h *Handler) Metrics() *Metrics { return h.metrics }
