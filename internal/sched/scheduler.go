// internal/sched/scheduler.go

package sched

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"strideos/internal/timer"
)

type switchReason int

const (
	switchYield switchReason = iota
	switchPreempt
	switchExit
)

func (r switchReason) String() string {
	switch r {
	case switchYield:
		return "yield"
	case switchPreempt:
		return "preempt"
	default:
		return "exit"
	}
}

// Processor is the single logical CPU. It owns the dispatch loop: it fetches
// the next task from the Manager, runs it until the task yields, is
// preempted or exits, and requeues it when it is still runnable.
//
// Task programs run on their own goroutines, but the processor hands the CPU
// to exactly one of them at a time, so at most one of them ever executes.
type Processor struct {
	manager *Manager
	clock   timer.Clock
	sliceUS uint64
	logger  *slog.Logger
	metrics *Metrics
	sink    EventSink
	onExit  func(t *TaskControlBlock)

	mu           sync.Mutex // protects the fields below
	current      *TaskControlBlock
	dispatchedAt uint64
	live         int

	switchCh chan switchReason // running task -> dispatch loop
	wake     chan struct{}     // new work for an idle loop
	done     chan struct{}     // closed when Run returns
	stop     sync.Once
}

// Option configures a Processor.
type Option func(*Processor)

// WithSlice sets the timeslice in microseconds. Zero disables preemption.
func WithSlice(us uint64) Option {
	return func(p *Processor) { p.sliceUS = us }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithEventSink(s EventSink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithExitHook installs a function called from the dispatch loop after a
// task has exited, e.g. to release its address space.
func WithExitHook(fn func(t *TaskControlBlock)) Option {
	return func(p *Processor) { p.onExit = fn }
}

// NewProcessor creates a processor scheduling out of manager.
func NewProcessor(manager *Manager, clock timer.Clock, opts ...Option) *Processor {
	p := &Processor{
		manager:  manager,
		clock:    clock,
		switchCh: make(chan switchReason),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Manager returns the ready queue the processor schedules from.
func (p *Processor) Manager() *Manager { return p.manager }

// Clock returns the processor's time source.
func (p *Processor) Clock() timer.Clock { return p.clock }

// AddTask admits a new task: it becomes Ready and joins the ready queue.
func (p *Processor) AddTask(t *TaskControlBlock) {
	p.mu.Lock()
	p.live++
	p.mu.Unlock()

	t.setStatus(Ready)
	p.enqueue(t, StatusEnqueue)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Current returns the running task, or nil when the CPU is idle or switching.
func (p *Processor) Current() *TaskControlBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Live returns the number of admitted tasks that have not exited.
func (p *Processor) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Run drives the dispatch loop until every admitted task has exited or ctx
// is done. An empty ready queue with live tasks left idles until AddTask
// brings in new work. Task goroutines still parked when Run returns are
// unwound at their next switch.
func (p *Processor) Run(ctx context.Context) error {
	defer p.stop.Do(func() { close(p.done) })
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := p.manager.Fetch()
		if t == nil {
			if p.Live() == 0 {
				return nil
			}
			p.emit(StatusIdle, nil)
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		p.metrics.ReadyTasks.Set(float64(p.manager.Len()))

		p.dispatch(t)
		select {
		case reason := <-p.switchCh:
			p.settle(t, reason)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Processor) dispatch(t *TaskControlBlock) {
	now := p.clock.NowMicros()
	first := t.markRunning(now)

	p.mu.Lock()
	p.current = t
	p.dispatchedAt = now
	p.mu.Unlock()

	p.metrics.Dispatches.Inc()
	p.emit(StatusDispatch, t)
	p.logger.Debug("dispatch", "pid", t.Pid, "name", t.Name, "stride", t.Stride())

	if first {
		go p.runTask(t)
		return
	}
	t.resume <- struct{}{}
}

func (p *Processor) runTask(t *TaskControlBlock) {
	if t.program != nil {
		t.program(t)
	}
	// falling off the end of the program is exit(0)
	p.ExitCurrentAndRunNext(0)
}

// settle runs on the dispatch loop once t has given up the CPU.
func (p *Processor) settle(t *TaskControlBlock, reason switchReason) {
	p.metrics.Switches.WithLabelValues(reason.String()).Inc()
	switch reason {
	case switchYield:
		t.setStatus(Ready)
		p.enqueue(t, StatusYield)
	case switchPreempt:
		t.setStatus(Ready)
		p.enqueue(t, StatusPreempt)
	case switchExit:
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		p.emit(StatusExit, t)
		p.logger.Debug("exit", "pid", t.Pid, "name", t.Name, "code", t.ExitCode())
		if p.onExit != nil {
			p.onExit(t)
		}
	}
}

func (p *Processor) enqueue(t *TaskControlBlock, kind StatusKind) {
	p.manager.Add(t)
	p.metrics.ReadyTasks.Set(float64(p.manager.Len()))
	p.emit(kind, t)
}

func (p *Processor) emit(kind StatusKind, t *TaskControlBlock) {
	if p.sink == nil {
		return
	}
	ev := StatusEvent{At: p.clock.NowMicros(), Kind: kind}
	if t != nil {
		ev.Pid = t.Pid
		ev.Name = t.Name
		ev.Stride = t.Stride()
		ev.Priority = t.Priority()
		ev.ExitCode = t.ExitCode()
	}
	p.sink.Record(ev)
}

// takeCurrent detaches the running task from the CPU.
func (p *Processor) takeCurrent() *TaskControlBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.current
	p.current = nil
	return t
}

// SuspendCurrentAndRunNext gives up the CPU on behalf of the running task.
// The task goes back to the ready queue and the call returns once the
// scheduler picks it again. It must be called from the running task's program.
func (p *Processor) SuspendCurrentAndRunNext() {
	p.switchOut(switchYield)
}

// PreemptCurrentAndRunNext is SuspendCurrentAndRunNext for an expired timeslice.
func (p *Processor) PreemptCurrentAndRunNext() {
	p.switchOut(switchPreempt)
}

func (p *Processor) switchOut(reason switchReason) {
	t := p.takeCurrent()
	if t == nil {
		return
	}
	select {
	case p.switchCh <- reason:
	case <-p.done:
		runtime.Goexit()
	}
	select {
	case <-t.resume:
	case <-p.done:
		runtime.Goexit()
	}
}

// ExitCurrentAndRunNext terminates the running task with code and never
// returns: the calling goroutine is unwound with runtime.Goexit once the
// dispatch loop has taken over.
func (p *Processor) ExitCurrentAndRunNext(code int32) {
	t := p.takeCurrent()
	if t == nil {
		panic("sched: exit with no running task")
	}
	t.markExited(code)
	select {
	case p.switchCh <- switchExit:
	case <-p.done:
	}
	runtime.Goexit()
}

// SliceExpired reports whether the running task has used up its timeslice.
func (p *Processor) SliceExpired() bool {
	if p.sliceUS == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false
	}
	return p.clock.NowMicros()-p.dispatchedAt >= p.sliceUS
}
