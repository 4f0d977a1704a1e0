package sched

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"strideos/internal/timer"
)

type recordSink struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *recordSink) Record(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordSink) kinds(pid Pid) []StatusKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusKind
	for _, ev := range r.events {
		if ev.Pid == pid && ev.Kind != StatusIdle {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// trace collects what task programs observe; only one program runs at a
// time but the race detector cannot know that.
type trace struct {
	mu  sync.Mutex
	log []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.log = append(tr.log, s)
}

func (tr *trace) String() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return strings.Join(tr.log, " ")
}

func runProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

func TestProcessorRunsNothing(t *testing.T) {
	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	runProcessor(t, p)
}

func TestProcessorYieldAlternatesEqualPriorities(t *testing.T) {
	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	var tr trace
	yielder := func(name string) Program {
		return func(tcb *TaskControlBlock) {
			for i := 0; i < 3; i++ {
				tr.add(name)
				p.SuspendCurrentAndRunNext()
			}
		}
	}
	p.AddTask(NewTaskControlBlock(1, "a", 8, nil, yielder("a")))
	p.AddTask(NewTaskControlBlock(2, "b", 8, nil, yielder("b")))

	runProcessor(t, p)
	require.Equal(t, "a b a b a b", tr.String())
	require.Zero(t, p.Live())
	require.Nil(t, p.Current())
}

func TestProcessorHigherPriorityRunsMoreOften(t *testing.T) {
	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	var tr trace
	counts := map[string]int{}
	var mu sync.Mutex
	spinner := func(name string, rounds int) Program {
		return func(tcb *TaskControlBlock) {
			for i := 0; i < rounds; i++ {
				mu.Lock()
				counts[name]++
				mu.Unlock()
				tr.add(name)
				p.SuspendCurrentAndRunNext()
			}
		}
	}
	p.AddTask(NewTaskControlBlock(1, "lo", 2, nil, spinner("lo", 100)))
	p.AddTask(NewTaskControlBlock(2, "hi", 4, nil, spinner("hi", 100)))
	runProcessor(t, p)

	// In the first 60 slices, hi runs twice as often as lo.
	first := strings.Fields(tr.String())[:60]
	hi := 0
	for _, name := range first {
		if name == "hi" {
			hi++
		}
	}
	require.InDelta(t, 40, hi, 1)
	require.Equal(t, 100, counts["lo"])
	require.Equal(t, 100, counts["hi"])
}

func TestProcessorExitNeverReturns(t *testing.T) {
	var exited []*TaskControlBlock
	p := NewProcessor(NewManager(0), timer.NewTickClock(1), WithExitHook(func(tcb *TaskControlBlock) {
		exited = append(exited, tcb)
	}))
	var tr trace
	tcb := NewTaskControlBlock(1, "quitter", DefaultPriority, nil, func(tcb *TaskControlBlock) {
		tr.add("before")
		p.ExitCurrentAndRunNext(7)
		tr.add("after")
	})
	p.AddTask(tcb)
	runProcessor(t, p)

	require.Equal(t, "before", tr.String())
	require.Equal(t, Exited, tcb.Status())
	require.EqualValues(t, 7, tcb.ExitCode())
	require.Equal(t, []*TaskControlBlock{tcb}, exited)
}

func TestProcessorProgramReturnIsExitZero(t *testing.T) {
	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	tcb := NewTaskControlBlock(1, "", DefaultPriority, nil, nil)
	p.AddTask(tcb)
	runProcessor(t, p)
	require.Equal(t, Exited, tcb.Status())
	require.Zero(t, tcb.ExitCode())
}

func TestProcessorRecordsStartTimeAndCurrent(t *testing.T) {
	clock := timer.NewTickClock(10)
	clock.Advance(5)
	p := NewProcessor(NewManager(0), clock)
	var current *TaskControlBlock
	tcb := NewTaskControlBlock(1, "", DefaultPriority, nil, func(tcb *TaskControlBlock) {
		current = p.Current()
		clock.Advance(3)
		p.SuspendCurrentAndRunNext()
	})
	p.AddTask(tcb)
	runProcessor(t, p)

	require.Same(t, tcb, current)
	require.EqualValues(t, 50, tcb.StartTime())
}

func TestProcessorSliceExpired(t *testing.T) {
	clock := timer.NewTickClock(100)
	sink := &recordSink{}
	p := NewProcessor(NewManager(0), clock, WithSlice(1000), WithEventSink(sink))
	require.False(t, p.SliceExpired())

	var before, after bool
	p.AddTask(NewTaskControlBlock(1, "", DefaultPriority, nil, func(tcb *TaskControlBlock) {
		before = p.SliceExpired()
		clock.Advance(10)
		after = p.SliceExpired()
		p.PreemptCurrentAndRunNext()
	}))
	runProcessor(t, p)

	require.False(t, before)
	require.True(t, after)
	require.Equal(t, []StatusKind{StatusEnqueue, StatusDispatch, StatusPreempt, StatusDispatch, StatusExit}, sink.kinds(1))
}

func TestProcessorSliceDisabled(t *testing.T) {
	clock := timer.NewTickClock(100)
	p := NewProcessor(NewManager(0), clock)
	var expired bool
	p.AddTask(NewTaskControlBlock(1, "", DefaultPriority, nil, func(tcb *TaskControlBlock) {
		clock.Advance(1 << 20)
		expired = p.SliceExpired()
	}))
	runProcessor(t, p)
	require.False(t, expired)
}

func TestProcessorMetricsAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sink := &recordSink{}
	p := NewProcessor(NewManager(0), timer.NewTickClock(1), WithMetrics(m), WithEventSink(sink))
	p.AddTask(NewTaskControlBlock(1, "a", DefaultPriority, nil, func(tcb *TaskControlBlock) {
		p.SuspendCurrentAndRunNext()
		p.SuspendCurrentAndRunNext()
	}))
	runProcessor(t, p)

	require.EqualValues(t, 3, testutil.ToFloat64(m.Dispatches))
	require.EqualValues(t, 2, testutil.ToFloat64(m.Switches.WithLabelValues("yield")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.Switches.WithLabelValues("exit")))
	require.EqualValues(t, 0, testutil.ToFloat64(m.ReadyTasks))
	require.Equal(t, []StatusKind{
		StatusEnqueue, StatusDispatch, StatusYield, StatusDispatch, StatusYield, StatusDispatch, StatusExit,
	}, sink.kinds(1))
}

func TestProcessorIdlesUntilWorkArrives(t *testing.T) {
	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	parked := NewTaskControlBlock(1, "parked", DefaultPriority, nil, nil)
	p.AddTask(parked)
	parked.setStatus(UnInit) // queued but not eligible

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)
	require.Equal(t, 1, p.Manager().Len())
}

func TestProcessorCancelUnwindsTasks(t *testing.T) {
	before := runtime.NumGoroutine()

	p := NewProcessor(NewManager(0), timer.NewTickClock(1))
	for pid := Pid(1); pid <= 5; pid++ {
		p.AddTask(NewTaskControlBlock(pid, "spin", DefaultPriority, nil, func(tcb *TaskControlBlock) {
			for {
				p.SuspendCurrentAndRunNext()
			}
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.LessOrEqual(t, runtime.NumGoroutine(), before)
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewCSVSink(&buf, "run-1")
	s.Record(StatusEvent{At: 42, Kind: StatusDispatch, Pid: 3, Name: "x", Stride: 100, Priority: 16})
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "run_id,timestamp_us,event,pid,name,stride,priority,exit_code", lines[0])
	require.Equal(t, "run-1,42,Dispatch,3,x,100,16,0", lines[1])
}

func TestPrintSinkSkipsIdle(t *testing.T) {
	var buf bytes.Buffer
	s := NewPrintSink(&buf)
	s.Record(StatusEvent{Kind: StatusIdle})
	require.Empty(t, buf.String())

	MultiSink{s}.Record(StatusEvent{At: 1, Kind: StatusExit, Pid: 2, Name: "t"})
	require.Contains(t, buf.String(), "Exit")
	require.Contains(t, buf.String(), "Task: 0002")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCSVSinkLogsWriteFailureOnce(t *testing.T) {
	var logs bytes.Buffer
	s := NewCSVSink(failingWriter{}, "run-1").WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	s.Record(StatusEvent{Kind: StatusDispatch, Pid: 1})
	s.Record(StatusEvent{Kind: StatusExit, Pid: 1})

	require.Equal(t, 1, strings.Count(logs.String(), "event log write failed"))
	require.Contains(t, logs.String(), "disk full")
	require.Error(t, s.Close())
}
