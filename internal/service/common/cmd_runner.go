package common

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Process represents a running process
type Process interface {
	Wait() error
	Kill() error
	Signal(sig os.Signal) error
}

// PipedProcess is a running process with its stdin and stdout exposed
type PipedProcess interface {
	Process
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
}

// CmdRunner is interface for executing external commands
type CmdRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(ctx context.Context, name string, args ...string) (Process, error)
	StartPiped(ctx context.Context, name string, args ...string) (PipedProcess, error)
	LookPath(name string) (string, error)
}

// realCmdRunner implements CmdRunner using os/exec
type realCmdRunner struct{}

// NewCmdRunner creates a new CmdRunner
func NewCmdRunner() CmdRunner {
	return &realCmdRunner{}
}

// processWrapper wraps exec.Cmd to implement Process interface
type processWrapper struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processWrapper) Wait() error {
	return p.cmd.Wait()
}

func (p *processWrapper) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *processWrapper) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *processWrapper) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *processWrapper) Stdout() io.ReadCloser {
	return p.stdout
}

// Run executes external command with given arguments
func (r *realCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// Start starts external command and returns Process for management
func (r *realCmdRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processWrapper{cmd: cmd}, nil
}

// StartPiped starts external command with stdin and stdout pipes attached
func (r *realCmdRunner) StartPiped(ctx context.Context, name string, args ...string) (PipedProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processWrapper{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// LookPath searches for an executable in PATH
func (r *realCmdRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
