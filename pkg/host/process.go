package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// tailLines is how many output lines a Process keeps for error reports.
const tailLines = 20

// ErrExitedEarly is returned by Wait when the process exits before it
// printed its ready line.
var ErrExitedEarly = errors.New("process exited before becoming ready")

// ProcessSpec describes a supervised child process.
type ProcessSpec struct {
	Name string
	Path string
	Args []string

	// LogPath receives the combined stdout/stderr. Empty disables the file.
	LogPath string

	// Ready is a substring of an output line that marks the process ready.
	// Empty means ready as soon as it has started.
	Ready string

	// StopTimeout bounds the wait between SIGTERM and SIGKILL.
	StopTimeout time.Duration
}

// Proc is a running supervised process.
type Proc interface {
	PID() int
	Ready() <-chan struct{}
	Done() <-chan struct{}
	// Err is the exit error. Valid after Done is closed.
	Err() error
	Tail() []string
	Stop() error
}

// Launcher starts supervised processes.
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (Proc, error)
}

// ExecLauncher launches real child processes.
type ExecLauncher struct{}

// Process is a child started by ExecLauncher. Output is logged, written to
// the spec's log file, and scanned for the ready line.
type Process struct {
	spec ProcessSpec
	cmd  *exec.Cmd
	log  *logrus.Entry

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once

	mu      sync.Mutex
	tail    []string
	exitErr error
}

// Launch starts the process. ctx only bounds the start itself; the process
// lives until Stop.
func (ExecLauncher) Launch(_ context.Context, spec ProcessSpec) (Proc, error) {
	if spec.StopTimeout == 0 {
		spec.StopTimeout = 5 * time.Second
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	// Own process group so terminal signals reach only the daemon. No
	// Pdeathsig: it follows the forking OS thread, not the process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s: pipe: %w", spec.Name, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	var logFile *os.File
	if spec.LogPath != "" {
		logFile, err = os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			pr.Close()
			pw.Close()
			return nil, fmt.Errorf("%s: create log %s: %w", spec.Name, spec.LogPath, err)
		}
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("%s: start: %w", spec.Name, err)
	}
	pw.Close()

	p := &Process{
		spec:  spec,
		cmd:   cmd,
		log:   util.Logger.WithFields(logrus.Fields{"proc": spec.Name, "pid": cmd.Process.Pid}),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if spec.Ready == "" {
		p.markReady()
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		var w io.Writer = io.Discard
		if logFile != nil {
			w = logFile
		}
		p.scan(pr, w)
	}()

	go func() {
		err := cmd.Wait()
		select {
		case <-readerDone:
		case <-time.After(time.Second):
		}
		pr.Close()
		if logFile != nil {
			logFile.Close()
		}
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		p.log.WithError(err).Debug("process exited")
		close(p.done)
	}()

	p.log.Infof("started %s", strings.Join(spec.Args, " "))
	return p, nil
}

func (p *Process) scan(r io.Reader, w io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintln(w, line)
		p.log.Debug(line)

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLines {
			p.tail = p.tail[len(p.tail)-tailLines:]
		}
		p.mu.Unlock()

		if p.spec.Ready != "" && strings.Contains(line, p.spec.Ready) {
			p.markReady()
		}
	}
}

func (p *Process) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// PID returns the child's process ID.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Ready is closed once the ready line has been seen.
func (p *Process) Ready() <-chan struct{} { return p.ready }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Tail returns the last lines of output.
func (p *Process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

// Stop sends SIGTERM, then SIGKILL after StopTimeout, and waits for exit.
// Calling Stop on an exited process is a no-op.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Process may already be dead
			return
		}
		select {
		case <-p.done:
			return
		case <-time.After(p.spec.StopTimeout):
		}
		p.log.Warn("did not exit after SIGTERM, killing")
		p.cmd.Process.Signal(syscall.SIGKILL)
	})
	<-p.done
	return nil
}

// WaitReady blocks until proc is ready, exits, or ctx ends. An exit before
// readiness returns ErrExitedEarly wrapped with the last output lines.
func WaitReady(ctx context.Context, proc Proc) error {
	select {
	case <-proc.Ready():
		return nil
	case <-proc.Done():
		select {
		case <-proc.Ready():
			return nil
		default:
		}
		tail := proc.Tail()
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		return fmt.Errorf("%w (%v): %s", ErrExitedEarly, proc.Err(), strings.Join(tail, " | "))
	case <-ctx.Done():
		return ctx.Err()
	}
}
