package notebook

import (
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/brandonshearin/notebookd/message"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(NotebookTestSuite))

type NotebookTestSuite struct{}

type fakeWorker struct {
	id   string
	live bool
}

func (w *fakeWorker) ID() string { return w.id }
func (w *fakeWorker) Live() bool { return w.live }

// TestEveryCellIndexedExactlyOnce covers invariant 1: every cell in the
// ordered sequence is reachable by name in the index, and vice versa.
func (s *NotebookTestSuite) TestEveryCellIndexedExactlyOnce(c *gc.C) {
	n := New()
	n.CreateCell("foo", "", &fakeWorker{id: "w1", live: true})
	n.CreateCell("bar", "foo", &fakeWorker{id: "w2", live: true})

	cells := n.Cells()
	c.Assert(cells, gc.HasLen, 2)
	for _, cell := range cells {
		got, err := n.Cell(cell.Name)
		c.Assert(err, gc.IsNil)
		c.Assert(got, gc.Equals, cell)
	}
}

func (s *NotebookTestSuite) TestUnknownCell(c *gc.C) {
	n := New()
	_, err := n.Cell("nope")
	c.Assert(err, gc.ErrorMatches, ".*unknown cell.*")
}

// TestUpdateIsIdempotent covers round-trip property 5: the last update
// wins regardless of how many preceded it.
func (s *NotebookTestSuite) TestUpdateIsIdempotent(c *gc.C) {
	n := New()
	n.CreateCell("foo", "", &fakeWorker{id: "w1", live: true})

	c.Assert(n.UpdateCode("foo", "a"), gc.IsNil)
	c.Assert(n.UpdateCode("foo", "b"), gc.IsNil)
	c.Assert(n.UpdateCode("foo", "print(1)\n"), gc.IsNil)

	cell, err := n.Cell("foo")
	c.Assert(err, gc.IsNil)
	c.Assert(cell.Code, gc.Equals, "print(1)\n")
}

func (s *NotebookTestSuite) TestCellByWorkerResolvesSender(c *gc.C) {
	n := New()
	w := &fakeWorker{id: "w1", live: true}
	n.CreateCell("foo", "", w)

	cell, err := n.CellByWorker("w1")
	c.Assert(err, gc.IsNil)
	c.Assert(cell.Name, gc.Equals, "foo")

	_, err = n.CellByWorker("missing")
	c.Assert(err, gc.ErrorMatches, ".*unknown cell.*")
}

func (s *NotebookTestSuite) TestApplyDidCreateCellBindsWorker(c *gc.C) {
	n := New()
	w := &fakeWorker{id: "w1", live: true}
	req := message.Message{ID: "r1", Type: message.CreateCell, Cell: "foo"}
	resp := message.DidCreateCellFor(message.DidCreateCell, req)

	_, err := n.Apply(resp, w)
	c.Assert(err, gc.IsNil)

	cell, err := n.Cell("foo")
	c.Assert(err, gc.IsNil)
	c.Assert(cell.Worker.ID(), gc.Equals, "w1")
	c.Assert(cell.Parent, gc.Equals, "")
}

func (s *NotebookTestSuite) TestApplyStdoutResolvesSenderWhenCellUnset(c *gc.C) {
	n := New()
	w := &fakeWorker{id: "w1", live: true}
	n.CreateCell("foo", "", w)

	out := message.StdoutFor("", "1\n")
	resolved, err := n.Apply(out, w)
	c.Assert(err, gc.IsNil)
	c.Assert(resolved.Cell, gc.Equals, "foo")

	cell, err := n.Cell("foo")
	c.Assert(err, gc.IsNil)
	c.Assert(cell.Results, gc.DeepEquals, []Result{{Type: "text", Data: "1\n"}})
}

func (s *NotebookTestSuite) TestApplyDidUpdateCellIsNoopAgainstModel(c *gc.C) {
	n := New()
	n.CreateCell("foo", "", &fakeWorker{id: "w1", live: true})
	c.Assert(n.UpdateCode("foo", "x"), gc.IsNil)

	req := message.Message{ID: "r2", Type: message.UpdateCell, Cell: "foo", Code: "y"}
	resp := message.DidUpdateCellFor(req)
	_, err := n.Apply(resp, nil)
	c.Assert(err, gc.IsNil)

	cell, _ := n.Cell("foo")
	c.Assert(cell.Code, gc.Equals, "x") // Apply doesn't touch code; UpdateCode does
}
