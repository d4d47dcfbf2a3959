package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	gc "gopkg.in/check.v1"
	"golang.org/x/xerrors"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(PipelineTestSuite))

type PipelineTestSuite struct{}

// TestFIFOOrdering covers the at-most-one-in-flight / FIFO guarantee: a
// single producer's items are dispatched in the order they were put,
// never concurrently with each other.
func (s *PipelineTestSuite) TestFIFOOrdering(c *gc.C) {
	var mu sync.Mutex
	var got []int
	var inFlight int32

	p := New(func(ctx context.Context, item int) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			mu.Unlock()
			c.Fatal("more than one dispatch in flight at once")
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		got = append(got, item)
		inFlight--
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 20; i++ {
		p.Put(i)
	}

	c.Assert(waitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}), gc.IsNil)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		c.Assert(v, gc.Equals, i)
	}
}

// TestDispatchErrorDoesNotStallQueue covers the error-handling design's
// core promise: a dispatcher error on one item must not prevent later
// items from being processed.
func (s *PipelineTestSuite) TestDispatchErrorDoesNotStallQueue(c *gc.C) {
	var mu sync.Mutex
	var got []int

	p := New(func(ctx context.Context, item int) error {
		if item == 1 {
			return xerrors.New("boom")
		}
		mu.Lock()
		got = append(got, item)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Put(0)
	p.Put(1)
	p.Put(2)

	c.Assert(waitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}), gc.IsNil)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(got, gc.DeepEquals, []int{0, 2})
	c.Assert(p.Errors(), gc.ErrorMatches, "(?s).*boom.*")
}

// TestPanicDoesNotStallQueue covers the same guarantee for a dispatcher
// that panics outright instead of returning an error.
func (s *PipelineTestSuite) TestPanicDoesNotStallQueue(c *gc.C) {
	var mu sync.Mutex
	var got []int

	p := New(func(ctx context.Context, item int) error {
		if item == 1 {
			panic("boom")
		}
		mu.Lock()
		got = append(got, item)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Put(0)
	p.Put(1)
	p.Put(2)

	c.Assert(waitUntil(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}), gc.IsNil)
}

// TestStopAbandonsInFlight covers "stop cancels the driver; in-flight
// dispatch is abandoned".
func (s *PipelineTestSuite) TestStopAbandonsInFlight(c *gc.C) {
	started := make(chan struct{})
	release := make(chan struct{})

	p := New(func(ctx context.Context, item int) error {
		close(started)
		<-release
		return nil
	})

	p.Start(context.Background())
	p.Put(1)
	<-started
	p.Stop()

	select {
	case <-p.done:
	case <-time.After(time.Second):
		c.Fatal("pipeline did not shut down after Stop")
	}
	close(release)
}

func waitUntil(cond func() bool) error {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return xerrors.New("timed out waiting for condition")
}
