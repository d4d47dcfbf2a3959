package server

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/brandonshearin/notebookd/message"
	"github.com/brandonshearin/notebookd/notebook"
	"github.com/brandonshearin/notebookd/worker"
)

// dispatchRequest switches on the request variant and routes it to
// either a notebook mutation or a worker operation. It runs on the
// request pipeline's single driver goroutine, so every read of the
// notebook here is safe even though the response pipeline is the only
// other mutator.
func (srv *Server) dispatchRequest(ctx context.Context, req message.Message) error {
	switch req.Type {
	case message.CreateCell:
		return srv.handleCreateCell(ctx, req)
	case message.ForkCell:
		return srv.handleForkCell(ctx, req)
	case message.UpdateCell:
		return srv.handleUpdateCell(req)
	case message.RunCell:
		return srv.handleRunCell(req)
	default:
		return nil // unknown requests are ignored
	}
}

// handleCreateCell spawns a fresh root worker in the background;
// StartRoot itself emits DidCreateCell onto the response pipeline once
// the subprocess reports ready, so this handler does not block the
// request pipeline on the subprocess handshake.
func (srv *Server) handleCreateCell(ctx context.Context, req message.Message) error {
	if _, err := srv.notebook.Cell(req.Cell); err == nil {
		return nil // name already taken; no-op
	}

	go func() {
		_, err := worker.StartRoot(ctx, req, srv.cfg.ReplConfig(), srv.cfg.RunTemplates(), srv.cfg.Fork,
			srv.emitResponse, srv.log().WithField("cell", req.Cell))
		if err != nil {
			srv.log().WithError(err).WithField("cell", req.Cell).Warn("worker spawn failed; cell was not created")
		}
	}()
	return nil
}

// handleForkCell implements the fork protocol's ordering requirement:
// the rendezvous listener must be accepting before the parent executes
// the fork snippet. The child worker's listener is started in the
// background; this handler blocks only until the listener reports
// ready, which is a local bind, not the remote handshake.
func (srv *Server) handleForkCell(ctx context.Context, req message.Message) error {
	parent, err := srv.notebook.Cell(req.Parent)
	if err != nil {
		srv.log().WithField("parent", req.Parent).Warn("fork: unknown parent cell")
		return nil
	}
	if parent.Worker == nil || !parent.Worker.Live() {
		srv.log().WithField("parent", req.Parent).Warn("fork: parent has no live worker")
		return nil
	}
	parentWorker, ok := parent.Worker.(*worker.Worker)
	if !ok {
		return xerrors.New("fork: parent worker handle has unexpected type")
	}

	addr := filepath.Join(os.TempDir(), uuid.NewString()+".sock")
	ready := make(chan struct{})

	go func() {
		_, err := worker.StartFork(ctx, req, addr, ready, srv.cfg.RunTemplates(), srv.cfg.Fork,
			srv.emitResponse, srv.log().WithField("cell", req.Cell))
		if err != nil {
			srv.log().WithError(err).WithField("cell", req.Cell).Warn("fork worker failed; cell was not created")
		}
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := parentWorker.Fork(addr); err != nil {
		srv.log().WithError(err).WithField("parent", req.Parent).Warn("fork: parent worker is dead")
	}
	return nil
}

// handleUpdateCell mutates the notebook directly from the request path
// -- safe because the request pipeline is serial and holds exclusive
// access -- then synthesizes DidUpdateCell onto the response pipeline
// for broadcast.
func (srv *Server) handleUpdateCell(req message.Message) error {
	if err := srv.notebook.UpdateCode(req.Cell, req.Code); err != nil {
		if xerrors.Is(err, notebook.ErrUnknownCell) {
			return nil // unknown cell: drop silently
		}
		return err
	}
	srv.responses.Put(respItem{Msg: message.DidUpdateCellFor(req)})
	return nil
}

// handleRunCell dispatches RunCell to the named cell's worker queue
// with the cell's current code as payload.
func (srv *Server) handleRunCell(req message.Message) error {
	cell, err := srv.notebook.Cell(req.Cell)
	if err != nil {
		return nil // unknown cell: drop silently
	}
	if cell.Worker == nil || !cell.Worker.Live() {
		srv.log().WithField("cell", req.Cell).Warn("run: cell has no live worker")
		return nil
	}
	w, ok := cell.Worker.(*worker.Worker)
	if !ok {
		return xerrors.New("run: worker handle has unexpected type")
	}
	return w.Run(req, cell.Code, srv.callbackURL())
}
