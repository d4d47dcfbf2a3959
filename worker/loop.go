package worker

import (
	"context"
	"io"

	"github.com/brandonshearin/notebookd/message"
)

type commandKind int

const (
	cmdRun commandKind = iota
	cmdFork
)

type command struct {
	kind commandKind

	// cmdRun fields.
	req         message.Message
	code        string
	callbackURL string

	// cmdFork fields.
	rendezvousAddr string
}

// Run enqueues a RunCell command: the worker will compose before_run +
// code + after_run + the callback snippet and write it to its command
// channel.
func (w *Worker) Run(req message.Message, code, callbackURL string) error {
	return w.enqueue(command{kind: cmdRun, req: req, code: code, callbackURL: callbackURL})
}

// Fork enqueues a ForkCell command: the worker will write the fork
// snippet, substituting rendezvousAddr, to its command channel so the
// interpreter spawns a child that dials back. Fork must only be called
// against a parent worker once the rendezvous listener is already
// accepting -- the request dispatcher enforces that ordering.
func (w *Worker) Fork(rendezvousAddr string) error {
	return w.enqueue(command{kind: cmdFork, rendezvousAddr: rendezvousAddr})
}

func (w *Worker) enqueue(cmd command) error {
	select {
	case w.cmds <- cmd:
		return nil
	case <-w.dead:
		return ErrDead
	}
}

// loop is the per-worker message loop: it serializes commands to this
// worker's subprocess/connection one at a time, in the order they were
// enqueued.
func (w *Worker) loop(ctx context.Context, respond Responder) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.dead:
			return
		case cmd, ok := <-w.cmds:
			if !ok {
				return
			}
			w.execute(cmd)
		}
	}
}

func (w *Worker) execute(cmd command) {
	var program string
	switch cmd.kind {
	case cmdRun:
		program = ComposeRun(cmd.code, w.runTemplates, cmd.callbackURL, cmd.req.ID)
	case cmdFork:
		program = ComposeFork(w.forkTemplate, cmd.rendezvousAddr)
	}

	if _, err := io.WriteString(w.writer, program); err != nil {
		w.markDead()
	}
}
