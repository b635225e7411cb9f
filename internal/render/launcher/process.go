// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/motivorastudios-blip/Motivora-studio/internal/procgroup"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

// tailLines is how many output lines a Process keeps for failure messages.
const tailLines = 20

// Process is one running stage. Its output (stdout and stderr merged) is
// delivered line by line on Lines until the child exits; Lines is closed
// before Done.
type Process struct {
	Stage     model.Stage
	StartedAt time.Time

	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}
	tail  *lineRing

	exitCode int
	waitErr  error
}

var _ model.ProcessHandle = (*Process)(nil)

func newProcess(stage model.Stage, cmd *exec.Cmd) *Process {
	return &Process{
		Stage: stage,
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
		tail:  newLineRing(tailLines),
	}
}

// Lines yields every non-empty output line. The consumer must drain it, or
// the child blocks on a full pipe.
func (p *Process) Lines() <-chan string { return p.lines }

// Done is closed once the child has exited and all output was delivered.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until Done and returns the exit code. A child killed by a
// signal reports -1.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Pid is the process id of the group leader.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate stops the whole process group and any stray descendants. It
// returns once the child is gone or timeout elapsed after SIGKILL. Lines
// must still be drained by someone while this runs.
func (p *Process) Terminate(grace, timeout time.Duration) error {
	return procgroup.Terminate(p.cmd, p.done, grace, timeout)
}

// Tail returns the last n captured lines, oldest first.
func (p *Process) Tail(n int) []string {
	return p.tail.lastN(n)
}

// LastLine returns the most recent captured line.
func (p *Process) LastLine() string {
	last := p.tail.lastN(1)
	if len(last) == 0 {
		return ""
	}
	return last[0]
}

func (p *Process) wait(w *lineWriter) {
	err := p.cmd.Wait()
	w.flush()
	close(p.lines)

	p.exitCode = 0
	if err != nil {
		p.exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
		}
		// WaitDelay expiring after a clean exit means a grandchild kept
		// the pipe open; the stage itself still succeeded.
		if errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil && p.cmd.ProcessState.Success() {
			p.exitCode = 0
			err = nil
		}
	}
	p.waitErr = err
	close(p.done)
}

// lineWriter splits child output into lines. Carriage returns count as line
// ends so progress counters that redraw in place still arrive one by one.
// exec guarantees a single writer goroutine when Stdout and Stderr are the
// same value.
type lineWriter struct {
	buf  bytes.Buffer
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		line := string(data[:i])
		w.buf.Next(i + 1)
		w.send(line)
	}
	// Guard against a child that never writes a newline.
	if w.buf.Len() > 64<<10 {
		w.send(w.buf.String())
		w.buf.Reset()
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.send(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) send(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	w.emit(line)
}

// lineRing keeps the last N lines.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	head  int
	full  bool
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 1
	}
	return &lineRing{lines: make([]string, capacity)}
}

func (r *lineRing) add(line string) {
	r.mu.Lock()
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.head == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *lineRing) lastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []string
	if r.full {
		ordered = append(ordered, r.lines[r.head:]...)
	}
	ordered = append(ordered, r.lines[:r.head]...)
	if n >= 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
