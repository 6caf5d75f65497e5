package common

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
)

// MockCmdRunner implements CmdRunner for testing
type MockCmdRunner struct {
	RunFunc        func(ctx context.Context, name string, args ...string) ([]byte, error)
	StartFunc      func(ctx context.Context, name string, args ...string) (Process, error)
	StartPipedFunc func(ctx context.Context, name string, args ...string) (PipedProcess, error)
	LookPathFunc   func(name string) (string, error)
}

func (m *MockCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return []byte("mocked output"), nil
}

func (m *MockCmdRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, name, args...)
	}
	return NewFakeProcess(nil), nil
}

func (m *MockCmdRunner) StartPiped(ctx context.Context, name string, args ...string) (PipedProcess, error) {
	if m.StartPipedFunc != nil {
		return m.StartPipedFunc(ctx, name, args...)
	}
	return NewFakePipedProcess(), nil
}

func (m *MockCmdRunner) LookPath(name string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// ErrKilled is returned by Wait on a fake process that was killed
var ErrKilled = errors.New("signal: killed")

// FakeProcess is a Process whose lifetime is controlled by the test.
// Wait blocks until Exit or Kill is called.
type FakeProcess struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	exitErr  error
	killed   bool
	onKilled func()
}

// NewFakeProcess creates a FakeProcess; onKilled runs when Kill is called
func NewFakeProcess(onKilled func()) *FakeProcess {
	return &FakeProcess{done: make(chan struct{}), onKilled: onKilled}
}

// Exit ends the process with the given error
func (p *FakeProcess) Exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Killed reports whether Kill was called
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *FakeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.onKilled != nil {
		p.onKilled()
	}
	p.Exit(ErrKilled)
	return nil
}

func (p *FakeProcess) Signal(sig os.Signal) error {
	if sig == os.Kill {
		return p.Kill()
	}
	return nil
}

// FakePipedProcess is a FakeProcess with in-memory pipes.
// The test reads what the code under test wrote with StdinReader and
// writes process output with StdoutWriter.
type FakePipedProcess struct {
	*FakeProcess
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
}

// NewFakePipedProcess creates a FakePipedProcess
func NewFakePipedProcess() *FakePipedProcess {
	p := &FakePipedProcess{}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.FakeProcess = NewFakeProcess(func() {
		p.stdoutW.CloseWithError(io.EOF)
		p.stdinR.CloseWithError(io.ErrClosedPipe)
	})
	return p
}

func (p *FakePipedProcess) Stdin() io.WriteCloser {
	return p.stdinW
}

func (p *FakePipedProcess) Stdout() io.ReadCloser {
	return p.stdoutR
}

// StdinReader exposes what the code under test writes to stdin
func (p *FakePipedProcess) StdinReader() io.Reader {
	return p.stdinR
}

// StdoutWriter feeds process output to the code under test
func (p *FakePipedProcess) StdoutWriter() io.WriteCloser {
	return p.stdoutW
}
