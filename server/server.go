// Package server is the orchestration kernel: it owns the notebook and
// the request and response pipelines, and wires
// the WebSocket transport and the callback HTTP endpoint to them.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandonshearin/notebookd/config"
	"github.com/brandonshearin/notebookd/message"
	"github.com/brandonshearin/notebookd/notebook"
	"github.com/brandonshearin/notebookd/pipeline"
	"github.com/brandonshearin/notebookd/worker"
)

// respItem is the item type carried on the response pipeline: a
// message paired with the worker that produced it.
type respItem struct {
	Msg    message.Message
	Sender *worker.Worker
}

// Server is the single process-wide orchestrator: the notebook, both
// pipelines, the client hub, and configuration. Workers are reached
// only through the handle each notebook cell holds. It is initialized
// at server start and torn down at Stop.
type Server struct {
	cfg    config.Config
	logger *logrus.Entry

	notebook *notebook.Notebook
	hub      *Hub

	requests  *pipeline.Pipeline[message.Message]
	responses *pipeline.Pipeline[respItem]

	// pending tracks in-flight requests by id so the callback endpoint
	// can synthesize a DidRunCell for the request it names.
	mu      sync.Mutex
	pending map[string]message.Message
}

// New constructs a Server. Call Start to spawn its pipeline drivers.
func New(cfg config.Config, logger *logrus.Entry) *Server {
	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		notebook: notebook.New(),
		hub:      newHub(logger),
		pending:  make(map[string]message.Message),
	}
	srv.requests = pipeline.New(srv.dispatchRequest)
	srv.responses = pipeline.New(srv.dispatchResponse)
	return srv
}

// Start spawns the request and response pipeline drivers.
func (srv *Server) Start(ctx context.Context) {
	srv.requests.Start(ctx)
	srv.responses.Start(ctx)
}

// Stop cancels both pipeline drivers. Dispatch in flight at the moment
// of the call is abandoned, not drained.
func (srv *Server) Stop() {
	srv.requests.Stop()
	srv.responses.Stop()
}

// SubmitRequest is the entry point for every client-originated message:
// it stamps a fresh id if the client didn't supply one, tracks it as
// pending, and enqueues it on the request pipeline.
func (srv *Server) SubmitRequest(m message.Message) {
	m = message.WithID(m)
	srv.mu.Lock()
	srv.pending[m.ID] = m
	srv.mu.Unlock()
	srv.requests.Put(m)
}

// emitResponse is the Responder a worker is constructed with: it
// enqueues the message produced by that worker onto the response
// pipeline, tagged with the worker as sender.
func (srv *Server) emitResponse(m message.Message, sender *worker.Worker) {
	srv.responses.Put(respItem{Msg: m, Sender: sender})
}

// popPending removes and returns the request tracked under id, used by
// the callback endpoint to recover the original RunCell request it must
// echo back in a synthesized DidRunCell. Popping (as opposed to merely
// reading) guarantees a given request id can produce at most one
// DidRunCell even if a worker's callback snippet somehow fires twice.
func (srv *Server) popPending(id string) (message.Message, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	m, ok := srv.pending[id]
	if ok {
		delete(srv.pending, id)
	}
	return m, ok
}

func (srv *Server) callbackURL() string {
	if srv.cfg.CallbackURL != "" {
		return srv.cfg.CallbackURL
	}
	return fmt.Sprintf("http://%s:%d/callback", srv.cfg.Addr, srv.cfg.Port)
}

func (srv *Server) log() *logrus.Entry {
	if srv.logger != nil {
		return srv.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
