/*package comm is the message layer between worker processes. It exposes the
small set of collectives the mesh engine needs (all-to-all, all-gather,
barrier) in the shape of an MPI communicator, implemented over in-process
channels so that multi-rank behavior is exercised by ordinary tests. Ranks
share no mesh state through this package: everything crossing a rank
boundary is an explicit message.

A fatal condition on any rank must take down every rank; Abort broadcasts
the failure and makes every pending and future collective return an error
instead of deadlocking.*/
package comm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAborted is returned by every collective after any rank has aborted.
var ErrAborted = errors.New("communicator aborted")

type message []byte

// group is the shared state of one communicator: a full mailbox matrix plus
// the abort latch.
type group struct {
	size    int
	boxes   [][]chan message // boxes[to][from]
	abortCh chan struct{}

	abortOnce sync.Once
	abortMu   sync.Mutex
	abortErr  error
}

// Comm is one rank's endpoint of a communicator group.
type Comm struct {
	rank int
	g    *group
}

// NewGroup creates a communicator group of the given size and returns one
// endpoint per rank.
func NewGroup(size int) []*Comm {
	if size < 1 {
		panic(fmt.Sprintf("communicator group size must be positive, got %d", size))
	}
	g := &group{
		size:    size,
		boxes:   make([][]chan message, size),
		abortCh: make(chan struct{}),
	}
	for to := 0; to < size; to++ {
		g.boxes[to] = make([]chan message, size)
		for from := 0; from < size; from++ {
			g.boxes[to][from] = make(chan message, 4)
		}
	}
	comms := make([]*Comm, size)
	for r := 0; r < size; r++ {
		comms[r] = &Comm{rank: r, g: g}
	}
	return comms
}

// Rank returns this endpoint's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return c.g.size }

// Abort latches the first failure and releases every rank blocked in a
// collective. Subsequent calls keep the first cause.
func (c *Comm) Abort(err error) {
	c.g.abortOnce.Do(func() {
		c.g.abortMu.Lock()
		c.g.abortErr = err
		c.g.abortMu.Unlock()
		close(c.g.abortCh)
	})
}

// Err returns the abort cause, or nil while the group is healthy.
func (c *Comm) Err() error {
	select {
	case <-c.g.abortCh:
		c.g.abortMu.Lock()
		defer c.g.abortMu.Unlock()
		return fmt.Errorf("%w: %v", ErrAborted, c.g.abortErr)
	default:
		return nil
	}
}

// Alltoall delivers send[r] to rank r and returns the messages every rank
// addressed to this one, indexed by source rank. All sends are issued before
// any receive is consumed. Messages may be nil for empty exchanges; idle
// ranks participate with all-nil sends and never deadlock the protocol.
func (c *Comm) Alltoall(send [][]byte) ([][]byte, error) {
	if len(send) != c.g.size {
		return nil, fmt.Errorf(
			"alltoall on rank %d got %d messages for %d ranks",
			c.rank, len(send), c.g.size)
	}
	for to := 0; to < c.g.size; to++ {
		select {
		case c.g.boxes[to][c.rank] <- message(send[to]):
		case <-c.g.abortCh:
			return nil, c.Err()
		}
	}
	recv := make([][]byte, c.g.size)
	for from := 0; from < c.g.size; from++ {
		select {
		case m := <-c.g.boxes[c.rank][from]:
			recv[from] = m
		case <-c.g.abortCh:
			return nil, c.Err()
		}
	}
	return recv, nil
}

// Allgather concatenates every rank's payload in rank order and returns the
// same bytes on every rank.
func (c *Comm) Allgather(payload []byte) ([]byte, error) {
	send := make([][]byte, c.g.size)
	for r := range send {
		send[r] = payload
	}
	recv, err := c.Alltoall(send)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, m := range recv {
		total += len(m)
	}
	out := make([]byte, 0, total)
	for _, m := range recv {
		out = append(out, m...)
	}
	return out, nil
}

// Barrier blocks until every rank has entered it, or fails after an abort.
func (c *Comm) Barrier() error {
	send := make([][]byte, c.g.size)
	_, err := c.Alltoall(send)
	return err
}
