// Package notebook holds the in-memory notebook aggregate: an ordered
// sequence of cells plus a name index, and the pure state transitions
// that the response pipeline applies to it.
package notebook

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/brandonshearin/notebookd/message"
)

// ErrUnknownCell is returned when a lookup names a cell that does not
// exist in the notebook.
var ErrUnknownCell = xerrors.New("unknown cell")

// ErrParentNotReady is returned when ForkCell names a parent whose
// worker has not (or no longer) reported ready.
var ErrParentNotReady = xerrors.New("parent cell has no live worker")

// Worker is the non-owning handle a Cell keeps on the subprocess that
// backs it. The notebook package only needs enough of a worker to
// resolve "which cell does this output belong to" and "is this cell's
// worker alive" -- the full worker lifecycle lives in the worker
// package, which does not import notebook, avoiding a cycle.
type Worker interface {
	// ID uniquely identifies the worker for the lifetime of the process.
	ID() string
	// Live reports whether the worker's subprocess is still running.
	Live() bool
}

// Cell is one node in the fork tree: a name, an optional parent, the
// latest source assigned to it, its accumulated output history, and a
// handle to the worker process backing it (nil until the worker
// reports ready).
type Cell struct {
	Name    string
	Parent  string // empty for root cells
	Code    string
	Results []Result
	Worker  Worker
}

// Result is one typed output record appended to a cell's history.
type Result struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Notebook is the mutable aggregate shared between the request and
// response pipelines. Every method takes the notebook's mutex for the
// duration of the call; the *Cell values it hands out are the live
// cells and are not guarded by that mutex once returned.
type Notebook struct {
	mu    sync.Mutex
	order []string
	cells map[string]*Cell
}

// New returns an empty notebook.
func New() *Notebook {
	return &Notebook{cells: make(map[string]*Cell)}
}

// Cell returns the named cell, or ErrUnknownCell.
func (n *Notebook) Cell(name string) (*Cell, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.cells[name]
	if !ok {
		return nil, xerrors.Errorf("cell %q: %w", name, ErrUnknownCell)
	}
	return c, nil
}

// Cells returns a snapshot of every cell in creation order. The
// returned slice is safe to range over without holding the notebook
// lock, but the *Cell values themselves are still the live cells.
func (n *Notebook) Cells() []*Cell {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Cell, len(n.order))
	for i, name := range n.order {
		out[i] = n.cells[name]
	}
	return out
}

// CellByWorker scans the notebook for the cell bound to worker id. This
// is the sender-to-cell resolution the response dispatcher needs for
// Stdout messages: a worker never knows its own cell's name, so the
// server looks it up the other way.
// A linear scan is fine at the notebook sizes this kernel expects; a
// deployment with many more cells would want a parallel worker->cell
// index invalidated on cell deletion, which the core does not support.
func (n *Notebook) CellByWorker(workerID string) (*Cell, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range n.order {
		c := n.cells[name]
		if c.Worker != nil && c.Worker.ID() == workerID {
			return c, nil
		}
	}
	return nil, xerrors.Errorf("cell for worker %q: %w", workerID, ErrUnknownCell)
}

// CreateCell appends a new cell bound to worker w. It implements the
// DidCreateCell/DidForkCell notebook update rule (section 3): append a
// new cell with the requested name and parent, bind the worker that
// produced the response. Callers are expected to have already verified
// uniqueness of name and (for forks) the existence of parent; CreateCell
// itself only enforces the name-uniqueness invariant, since that is the
// one no caller should ever violate.
func (n *Notebook) CreateCell(name, parent string, w Worker) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.cells[name]; exists {
		return // defensive no-op; request dispatch never re-creates a name
	}
	n.cells[name] = &Cell{Name: name, Parent: parent, Worker: w}
	n.order = append(n.order, name)
}

// UpdateCode implements the UpdateCell notebook update rule: assign the
// request's code to the named cell.
func (n *Notebook) UpdateCode(name, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.cells[name]
	if !ok {
		return xerrors.Errorf("update %q: %w", name, ErrUnknownCell)
	}
	c.Code = code
	return nil
}

// AppendStdout implements the Stdout notebook update rule: append a
// {type:"text", data:text} output record to the named cell.
func (n *Notebook) AppendStdout(name, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.cells[name]
	if !ok {
		return xerrors.Errorf("stdout for %q: %w", name, ErrUnknownCell)
	}
	c.Results = append(c.Results, Result{Type: "text", Data: text})
	return nil
}

// Apply folds a response message into the notebook, implementing the
// notebook update rules from section 3 in one place so request/response
// dispatch never has to duplicate the switch. sender supplies the
// Worker handle that produced m (the response pipeline tags every item
// with the worker that emitted it). Apply returns m with Cell filled in
// when it resolved a Stdout message's sender to a cell name, so the
// caller can broadcast the same resolved message it applied.
func (n *Notebook) Apply(m message.Message, sender Worker) (message.Message, error) {
	switch m.Type {
	case message.DidCreateCell, message.DidForkCell:
		if m.Request == nil {
			return m, xerrors.Errorf("%s missing originating request", m.Type)
		}
		n.CreateCell(m.Request.Cell, m.Request.Parent, sender)
		return m, nil
	case message.DidUpdateCell:
		return m, nil // code was already applied on the request path
	case message.DidRunCell:
		return m, nil // run completion carries no model change beyond notification
	case message.Stdout:
		if m.Cell == "" {
			c, err := n.CellByWorker(sender.ID())
			if err != nil {
				return m, err
			}
			m.Cell = c.Name
		}
		return m, n.AppendStdout(m.Cell, m.Text)
	default:
		return m, nil // unknown/unhandled variants are no-ops against the model
	}
}
