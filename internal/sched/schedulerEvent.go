// internal/sched/schedulerEvent.go

package sched

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusYield
	StatusPreempt
	StatusExit
)

// StatusEvent is emitted on every scheduling action.
type StatusEvent struct {
	At       uint64 // kernel clock, microseconds
	Kind     StatusKind
	Pid      Pid
	Name     string
	Stride   int64
	Priority int64
	ExitCode int32
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusYield:
		return "Yield"
	case StatusPreempt:
		return "Preempt"
	case StatusExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// EventSink consumes scheduler events. Record is called from the dispatch
// loop, so it must not call back into the processor.
type EventSink interface {
	Record(ev StatusEvent)
}

// CSVSink writes one CSV row per event.
type CSVSink struct {
	mu     sync.Mutex
	runID  string
	w      *csv.Writer
	closer io.Closer
	logger *slog.Logger
	failed bool // a write error has been logged
}

// NewCSVSink writes the header to w and returns a sink tagging every row with runID.
func NewCSVSink(w io.Writer, runID string) *CSVSink {
	cw := csv.NewWriter(w)
	cw.Write([]string{"run_id", "timestamp_us", "event", "pid", "name", "stride", "priority", "exit_code"})
	cw.Flush()
	return &CSVSink{runID: runID, w: cw, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithLogger sets where the sink reports its first write failure.
func (s *CSVSink) WithLogger(l *slog.Logger) *CSVSink {
	s.logger = l
	return s
}

// OpenCSVSink creates the file at path and logs events into it.
func OpenCSVSink(path, runID string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := NewCSVSink(f, runID)
	s.closer = f
	return s, nil
}

func (s *CSVSink) Record(ev StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write([]string{
		s.runID,
		strconv.FormatUint(ev.At, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.Pid), 10),
		ev.Name,
		strconv.FormatInt(ev.Stride, 10),
		strconv.FormatInt(ev.Priority, 10),
		strconv.FormatInt(int64(ev.ExitCode), 10),
	})
	s.w.Flush()
	if err := s.w.Error(); err != nil && !s.failed {
		s.failed = true
		s.logger.Warn("event log write failed", "run_id", s.runID, "err", err)
	}
}

// Close flushes and closes the underlying file, if the sink owns one.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// PrintSink writes one human readable line per event.
type PrintSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrintSink(w io.Writer) *PrintSink {
	return &PrintSink{w: w}
}

func (s *PrintSink) Record(ev StatusEvent) {
	// idle events are too chatty for the console
	if ev.Kind == StatusIdle {
		return
	}

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%012dus [%s] => Task: %04d %-12s stride=%010d priority=%05d\n",
		ev.At,
		center(ev.Kind.String(), 10),
		ev.Pid,
		ev.Name,
		ev.Stride,
		ev.Priority,
	)
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Record(ev StatusEvent) {
	for _, s := range m {
		s.Record(ev)
	}
}
