package comm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// onEveryRank runs f concurrently on every endpoint of a fresh group and
// waits for all of them.
func onEveryRank(size int, f func(c *Comm)) []*Comm {
	comms := NewGroup(size)
	wg := sync.WaitGroup{}
	for _, c := range comms {
		wg.Add(1)
		go func(c *Comm) {
			defer wg.Done()
			f(c)
		}(c)
	}
	wg.Wait()
	return comms
}

func TestNewGroupRejectsEmptyGroup(t *testing.T) {
	require.Panics(t, func() { NewGroup(0) })
}

func TestAlltoall(t *testing.T) {
	size := 3
	mu := sync.Mutex{}
	got := make([][][]byte, size)

	onEveryRank(size, func(c *Comm) {
		send := make([][]byte, size)
		for to := 0; to < size; to++ {
			send[to] = []byte(fmt.Sprintf("from %d to %d", c.Rank(), to))
		}
		recv, err := c.Alltoall(send)
		require.NoError(t, err)
		mu.Lock()
		got[c.Rank()] = recv
		mu.Unlock()
	})

	for to := 0; to < size; to++ {
		require.Len(t, got[to], size)
		for from := 0; from < size; from++ {
			assert.Equal(t, fmt.Sprintf("from %d to %d", from, to),
				string(got[to][from]))
		}
	}
}

func TestAlltoallNilMessages(t *testing.T) {
	onEveryRank(2, func(c *Comm) {
		recv, err := c.Alltoall(make([][]byte, 2))
		require.NoError(t, err)
		for from := range recv {
			assert.Empty(t, recv[from])
		}
	})
}

func TestAlltoallRejectsWrongFanout(t *testing.T) {
	comms := NewGroup(2)
	_, err := comms[0].Alltoall(make([][]byte, 3))
	require.Error(t, err)
}

func TestAllgatherIsRankOrderedAndIdenticalEverywhere(t *testing.T) {
	size := 4
	mu := sync.Mutex{}
	got := make([][]byte, size)

	onEveryRank(size, func(c *Comm) {
		out, err := c.Allgather([]byte{byte(c.Rank()), byte(c.Rank())})
		require.NoError(t, err)
		mu.Lock()
		got[c.Rank()] = out
		mu.Unlock()
	})

	want := []byte{0, 0, 1, 1, 2, 2, 3, 3}
	for r := 0; r < size; r++ {
		assert.Equal(t, want, got[r], "rank %d", r)
	}
}

func TestBarrierWaitsForEveryRank(t *testing.T) {
	size := 3
	entered := make(chan int, size)
	onEveryRank(size, func(c *Comm) {
		entered <- c.Rank()
		require.NoError(t, c.Barrier())
		// After the barrier every rank must already have entered.
		assert.Len(t, entered, size)
	})
}

func TestAbortReleasesBlockedCollectives(t *testing.T) {
	comms := NewGroup(2)
	cause := errors.New("simulated rank failure")

	done := make(chan error, 1)
	go func() {
		// Rank 0 blocks: rank 1 never participates.
		err := comms[0].Barrier()
		done <- err
	}()

	// Give rank 0 time to block before poisoning the group.
	time.Sleep(10 * time.Millisecond)
	comms[1].Abort(cause)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAborted)
		assert.Contains(t, err.Error(), "simulated rank failure")
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not release the blocked collective")
	}

	// The group stays poisoned for future collectives on every rank.
	_, err := comms[0].Alltoall(make([][]byte, 2))
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, comms[1].Err(), ErrAborted)
}

func TestAbortKeepsFirstCause(t *testing.T) {
	comms := NewGroup(2)
	comms[0].Abort(errors.New("first"))
	comms[1].Abort(errors.New("second"))
	assert.Contains(t, comms[0].Err().Error(), "first")
	assert.NotContains(t, comms[0].Err().Error(), "second")
}

func TestUint64sRoundTrip(t *testing.T) {
	x := []uint64{0, 1, 1<<64 - 1, 0xDEADBEEF}
	buf := AppendUint64s([]byte{0xAA}, x)

	got, rest, err := Uint64s(buf[1:], len(x))
	require.NoError(t, err)
	assert.Equal(t, x, got)
	assert.Empty(t, rest)

	_, _, err = Uint64s(buf[1:], len(x)+1)
	require.Error(t, err)
}

func TestFloat64sRoundTrip(t *testing.T) {
	x := []float64{0, -1.5, 3.14159, 1e300}
	buf := AppendFloat64s(nil, x)

	got, rest, err := Float64s(buf, len(x))
	require.NoError(t, err)
	assert.Equal(t, x, got)
	assert.Empty(t, rest)

	dst := make([]float64, len(x))
	rest, err = DecodeFloat64sInto(dst, buf)
	require.NoError(t, err)
	assert.Equal(t, x, dst)
	assert.Empty(t, rest)

	_, err = DecodeFloat64sInto(make([]float64, len(x)+1), buf)
	require.Error(t, err)
}
