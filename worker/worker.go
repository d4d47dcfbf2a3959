// Package worker wraps one interpreter subprocess per notebook cell: a
// root worker spawns a fresh REPL subprocess, a forked worker accepts a
// rendezvous connection from a child process the parent interpreter
// spawned on its own. Both flavors expose the same per-worker command
// queue and output stream to the rest of the server.
//
// The spawn/pump/death-watch shape is grounded on the mediasoup-style
// media worker in the reference pack: exec.Command, separate
// StdoutPipe/StderrPipe goroutines, a background cmd.Wait(), and a
// pid-keyed logger.
package worker

import (
	"bufio"
	"context"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandonshearin/notebookd/message"
)

// ErrDead is returned by Run and Fork once a worker's subprocess or
// rendezvous connection has gone away.
var ErrDead = xerrors.New("worker is dead")

// ReadySentinel is the line a bootstrap writes to its stdout (root
// workers) or to the rendezvous connection (forked workers) to signal
// that it is ready to accept commands.
const ReadySentinel = "__notebookd_ready__"

// HandshakeTimeout bounds how long StartRoot/StartFork wait for the
// ready sentinel before declaring the spawn a failure.
var HandshakeTimeout = 10 * time.Second

// Responder is how a Worker reports events back to the server: the
// response pipeline's Put, tagged with the worker that produced the
// message.
type Responder func(m message.Message, sender *Worker)

// ReplConfig describes how to spawn a root worker's subprocess.
type ReplConfig struct {
	Command   string
	Arguments []string
}

// Worker is one interpreter subprocess dedicated to a single cell,
// commanded over stdin (root workers) or an accepted rendezvous stream
// (forked workers).
type Worker struct {
	id string

	cmd    *exec.Cmd // nil for forked workers; the server never spawned them directly
	writer io.Writer
	closer io.Closer

	cmds chan command

	deadOnce sync.Once
	dead     chan struct{}

	runTemplates RunTemplates
	forkTemplate string

	logger *logrus.Entry
}

// ID uniquely identifies the worker for the lifetime of the process.
// Implements notebook.Worker.
func (w *Worker) ID() string { return w.id }

// Live reports whether the worker can still accept commands.
// Implements notebook.Worker.
func (w *Worker) Live() bool {
	select {
	case <-w.dead:
		return false
	default:
		return true
	}
}

// Dead returns a channel that is closed once the worker's subprocess
// exits or its command channel closes.
func (w *Worker) Dead() <-chan struct{} { return w.dead }

func newWorker(writer io.Writer, closer io.Closer, runTemplates RunTemplates, forkTemplate string, logger *logrus.Entry) *Worker {
	return &Worker{
		id:           uuid.NewString(),
		writer:       writer,
		closer:       closer,
		cmds:         make(chan command, 8),
		dead:         make(chan struct{}),
		runTemplates: runTemplates,
		forkTemplate: forkTemplate,
		logger:       logger,
	}
}

func (w *Worker) markDead() {
	w.deadOnce.Do(func() {
		close(w.dead)
		if w.closer != nil {
			_ = w.closer.Close()
		}
	})
}

// StartRoot spawns a fresh REPL subprocess, waits for its ready
// handshake, reports DidCreateCell to respond, then begins this
// worker's message loop and output pump.
func StartRoot(ctx context.Context, req message.Message, repl ReplConfig, runTemplates RunTemplates, forkTemplate string, respond Responder, logger *logrus.Entry) (*Worker, error) {
	cmd := exec.CommandContext(ctx, repl.Command, repl.Arguments...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, xerrors.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, xerrors.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, xerrors.Errorf("worker: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("worker: spawn %s: %w", repl.Command, err)
	}

	stdoutR := bufio.NewReader(stdout)
	if err := awaitHandshake(stdoutR, HandshakeTimeout); err != nil {
		_ = cmd.Process.Kill()
		return nil, xerrors.Errorf("worker: handshake: %w", err)
	}

	w := newWorker(stdin, stdin, runTemplates, forkTemplate,
		logger.WithField("worker_pid", cmd.Process.Pid))
	w.cmd = cmd

	respond(message.DidCreateCellFor(message.DidCreateCell, req), w)

	go pumpLines(stdoutR, w, respond)
	go pumpLines(bufio.NewReader(stderr), w, respond)
	go w.watchExit()
	go w.loop(ctx, respond)

	return w, nil
}

// StartFork listens on a fresh rendezvous socket, signals ready so the
// caller can instruct the parent worker to execute the fork snippet,
// accepts exactly one connection, reads its handshake, reports
// DidForkCell, then begins this worker's message loop using the
// accepted connection as both its command channel and its output
// stream.
func StartFork(ctx context.Context, req message.Message, rendezvousAddr string, ready chan<- struct{}, runTemplates RunTemplates, forkTemplate string, respond Responder, logger *logrus.Entry) (*Worker, error) {
	ln, err := net.Listen("unix", rendezvousAddr)
	if err != nil {
		return nil, xerrors.Errorf("worker: rendezvous listen %s: %w", rendezvousAddr, err)
	}

	close(ready)

	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, xerrors.Errorf("worker: rendezvous accept: %w", err)
	}

	connR := bufio.NewReader(conn)
	if err := awaitHandshake(connR, HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("worker: fork handshake: %w", err)
	}

	w := newWorker(conn, conn, runTemplates, forkTemplate, logger.WithField("rendezvous", rendezvousAddr))

	respond(message.DidCreateCellFor(message.DidForkCell, req), w)

	go pumpLines(connR, w, respond)
	go w.loop(ctx, respond)

	return w, nil
}

func awaitHandshake(r *bufio.Reader, timeout time.Duration) error {
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, _, err := r.ReadLine()
		if err != nil {
			errCh <- err
			return
		}
		lineCh <- string(line)
	}()

	select {
	case line := <-lineCh:
		if line != ReadySentinel {
			return xerrors.Errorf("unexpected handshake line %q", line)
		}
		return nil
	case err := <-errCh:
		return xerrors.Errorf("handshake read: %w", err)
	case <-time.After(timeout):
		return xerrors.New("timed out waiting for ready handshake")
	}
}

// pumpLines reads lines from r until EOF or error, forwarding each one
// as an Stdout message with Cell left unset -- the server resolves the
// cell name on receipt. Output from stderr is folded into the same
// Stdout variant for now rather than a dedicated Stderr kind.
func pumpLines(r *bufio.Reader, w *Worker, respond Responder) {
	for {
		line, _, err := r.ReadLine()
		if err != nil {
			w.markDead()
			return
		}
		respond(message.StdoutFor("", string(line)+"\n"), w)
	}
}

func (w *Worker) watchExit() {
	_ = w.cmd.Wait()
	w.markDead()
}
