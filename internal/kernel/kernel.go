package kernel

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"strideos/internal/config"
	"strideos/internal/mm"
	"strideos/internal/sched"
	"strideos/internal/syscalls"
	"strideos/internal/timer"
)

// Options carries the collaborators a Kernel is built with. Zero values get
// sensible defaults.
type Options struct {
	Clock    timer.Clock           // defaults to a monotonic clock
	Logger   *slog.Logger          // defaults to discarding
	Registry prometheus.Registerer // metrics are not registered when nil
	Sink     sched.EventSink       // scheduler events, optional
	Console  io.Writer             // where fd 1 goes, defaults to discarding
}

// Kernel wires the scheduler, the syscall surface and user memory together.
// One Kernel is one machine; nothing in it is global.
type Kernel struct {
	cfg      config.Config
	logger   *slog.Logger
	clock    timer.Clock
	spaces   *mm.Registry
	manager  *sched.Manager
	proc     *sched.Processor
	syscalls *syscalls.Handler

	mu      sync.Mutex
	nextPid sched.Pid
}

// New boots a kernel from cfg.
func New(cfg config.Config, opts Options) *Kernel {
	if opts.Clock == nil {
		opts.Clock = timer.NewMonotonicClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}

	k := &Kernel{
		cfg:     cfg,
		logger:  opts.Logger,
		clock:   opts.Clock,
		spaces:  mm.NewRegistry(),
		manager: sched.NewManager(cfg.BigStride),
		nextPid: 1,
	}

	procOpts := []sched.Option{
		sched.WithSlice(cfg.SliceUS),
		sched.WithLogger(opts.Logger),
		sched.WithMetrics(sched.NewMetrics(opts.Registry)),
		sched.WithExitHook(k.reap),
	}
	if opts.Sink != nil {
		procOpts = append(procOpts, sched.WithEventSink(opts.Sink))
	}
	k.proc = sched.NewProcessor(k.manager, opts.Clock, procOpts...)
	k.syscalls = syscalls.NewHandler(k.proc, k.spaces,
		syscalls.WithConsole(opts.Console),
		syscalls.WithLogger(opts.Logger),
		syscalls.WithMetrics(syscalls.NewMetrics(opts.Registry)),
	)
	return k
}

// Processor returns the kernel's CPU.
func (k *Kernel) Processor() *sched.Processor { return k.proc }

// Syscalls returns the syscall surface.
func (k *Kernel) Syscalls() *syscalls.Handler { return k.syscalls }

// AddressSpaces returns the translator's registry of live address spaces.
func (k *Kernel) AddressSpaces() *mm.Registry { return k.spaces }

// Layout is the user memory every spawned task starts with.
func (k *Kernel) Layout() mm.Layout {
	return mm.Layout{
		Base:         mm.VirtAddr(k.cfg.UserBase),
		Pages:        k.cfg.UserPages,
		MaxHeapPages: k.cfg.MaxHeapPages,
	}
}

// Spawn loads prog into a fresh address space and admits it to the ready
// queue. A priority of zero means the configured default.
func (k *Kernel) Spawn(name string, priority int64, prog func(u *User)) (*sched.TaskControlBlock, error) {
	if priority == 0 {
		priority = k.cfg.DefaultPriority
	}
	space, err := k.spaces.Create(k.Layout())
	if err != nil {
		return nil, errors.Wrapf(err, "building address space for %q", name)
	}

	k.mu.Lock()
	pid := k.nextPid
	k.nextPid++
	k.mu.Unlock()

	tcb := sched.NewTaskControlBlock(pid, name, priority, space, func(t *sched.TaskControlBlock) {
		prog(&User{k: k, task: t})
	})
	k.proc.AddTask(tcb)
	k.logger.Debug("spawned", "pid", pid, "name", name, "priority", tcb.Priority(), "token", space.Token())
	return tcb, nil
}

// Run schedules until every task has exited or ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	return k.proc.Run(ctx)
}

// reap releases an exited task's address space.
func (k *Kernel) reap(t *sched.TaskControlBlock) {
	k.spaces.Release(t.Token())
}
