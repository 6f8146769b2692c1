package mempool

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"
)

// The neighbour exchange migrates single records across portion edges
// until every pair of adjacent portions is ordered. Each worker owns two
// single-slot mailboxes (its inboxes); a worker deposits records into its
// neighbour's inbox and consumes records from its own. A worker holds at
// most one mailbox mutex at any moment, so the lock graph over the worker
// line is acyclic.
//
// Migrations are balanced swaps. A worker initiates on an edge only while
// the sides are inverted, min(right side) < max(left side), and only with
// an even send/take balance there; a worker that consumed a record owes
// its own edge-side extremum back and sends it regardless of inversion.
// Every completed swap moves a smaller record left past a bigger one, so
// the global inversion count strictly decreases and the exchange
// terminates; the even final balance keeps every portion at its original
// record count. A full worker facing a pending inbound record evicts its
// extremum over the same edge first; the freed slot absorbs the record
// and the eviction chain always unwinds at a boundary worker.
//
// Closing: latching NO_FREE_SPACE the moment a worker sees no local
// inversion is unsound, because a record arriving later over the opposite
// edge can reintroduce one. Edges latch through the pool's quiescence
// monitor instead: once every live worker published an unproductive pass
// against the current progress counter, no record is in flight and every
// edge balance is even, the monitor closes all mailboxes under their
// locks in one sweep.

// exchange runs the worker's side of the neighbour protocol until both of
// its mailboxes are terminal.
func (w *worker) exchange(ctx context.Context) error {
	defer w.done.Store(true)

	var noted error

	for {
		if err := ctx.Err(); err != nil {
			w.failMailboxes()
			return err
		}

		if w.left.snapshot().closed() && w.right.snapshot().closed() {
			return noted
		}

		observed := w.monitor.progress.Load()
		progressed := false

		for _, op := range [...]func() (bool, error){
			w.trySendLeft, w.trySendRight, w.tryTakeLeft, w.tryTakeRight,
		} {
			did, err := op()
			if err != nil {
				if isNeighbourFailure(err) {
					if noted == nil {
						noted = err
					}
					continue
				}
				w.failMailboxes()
				return err
			}
			progressed = progressed || did
		}

		if progressed {
			w.idleAt.Store(idleActive)
			continue
		}

		w.idleAt.Store(observed)
		runtime.Gosched()
	}
}

// neighbourFailure marks errors caused by observing a FAILED neighbour
// mailbox: the edge counts as closed for termination, the error is still
// surfaced after the exchange winds down.
type neighbourFailure struct{ error }

func isNeighbourFailure(err error) bool {
	_, ok := err.(neighbourFailure)
	return ok
}

func (w *worker) live() int { return w.end - w.start }

func (w *worker) full() bool {
	return w.start == 0 && w.end == w.layout.PortionCapacity
}

// minKey and maxKey are the worker's current boundary keys. An empty live
// window advertises inverted bounds, so neither neighbour initiates a
// migration towards it; pending balanced swaps refill it instead.
func (w *worker) minKey() uint64 {
	if w.live() == 0 {
		return math.MaxUint64
	}
	return w.out.Key(w.start, w.cfg.Key.Mask)
}

func (w *worker) maxKey() uint64 {
	if w.live() == 0 {
		return 0
	}
	return w.out.Key(w.end-1, w.cfg.Key.Mask)
}

// publishBounds transitions both mailboxes out of QUICKSORT_IN_PROGRESS,
// committing the boundary keys together with the state change. Boundary
// mailboxes pinned to NO_FREE_SPACE keep their state.
func (w *worker) publishBounds() {
	for _, e := range [...]struct {
		m     *mailbox
		bound uint64
	}{
		{w.left, w.minKey()},
		{w.right, w.maxKey()},
	} {
		e.m.mu.Lock()
		if e.m.state == mailboxQuicksortInProgress {
			e.m.state = mailboxReadyForExchange
		}
		e.m.bound = e.bound
		e.m.mu.Unlock()
	}
}

// refreshBounds republishes both boundary keys after the live window
// changed. States are left alone.
func (w *worker) refreshBounds() {
	w.left.setBound(w.minKey())
	w.right.setBound(w.maxKey())
}

// closeOwn latches the worker's own mailbox to NO_FREE_SPACE unless it
// still holds an unconsumed record or already failed.
func (w *worker) closeOwn(m *mailbox) {
	m.mu.Lock()
	switch m.state {
	case mailboxQuicksortInProgress, mailboxReadyForExchange:
		m.state = mailboxNoFreeSpace
	}
	m.mu.Unlock()
}

// failMailboxes drives both of the worker's mailboxes into the terminal
// FAILED state.
func (w *worker) failMailboxes() {
	w.left.setState(mailboxFailed)
	w.right.setState(mailboxFailed)
}

// trySendLeft deposits the worker's minimum record into the left
// neighbour's right inbox when the edge calls for it: an inversion with
// an even balance starts a swap, a negative balance owes the counterpart
// of a consumed record, a full portion with a pending inbound record
// evicts to make room.
func (w *worker) trySendLeft() (bool, error) {
	if w.leftPeer == nil {
		return false, nil
	}

	// Snapshots of own state are taken before locking the neighbour
	// mailbox; a worker holds one mutex at a time.
	evict := w.full() && w.left.snapshot() == mailboxPleaseTakeRecord

	nb := w.leftPeer.right
	nb.mu.Lock()

	switch nb.state {
	case mailboxQuicksortInProgress, mailboxPleaseTakeRecord:
		nb.mu.Unlock()
		return false, nil

	case mailboxNoFreeSpace:
		nb.mu.Unlock()
		w.closeOwn(w.left)
		return false, nil

	case mailboxFailed:
		nb.mu.Unlock()
		w.closeOwn(w.left)
		if evict {
			// The pending record cannot be absorbed without this edge.
			return false, fmt.Errorf("%w: left neighbour failed with a record in flight",
				ErrMailboxProtocol)
		}
		return false, neighbourFailure{fmt.Errorf("%w: left neighbour failed", ErrMailboxProtocol)}

	case mailboxReadyForExchange:
		if w.live() == 0 {
			nb.mu.Unlock()
			return false, nil
		}

		balance := w.leftBalance.Load()
		inversion := w.out.Key(w.start, w.cfg.Key.Mask) < nb.bound
		if !(inversion && balance == 0) && balance >= 0 && !evict {
			nb.mu.Unlock()
			return false, nil
		}

		copy(nb.scratch, w.out.Record(w.start))
		nb.state = mailboxPleaseTakeRecord
		w.leftBalance.Add(1)
		w.monitor.progress.Add(1)
		nb.mu.Unlock()

		w.start++
		w.refreshBounds()
		return true, nil

	default:
		state := nb.state
		nb.mu.Unlock()
		return false, fmt.Errorf("%w: left neighbour right mailbox in %s",
			ErrMailboxProtocol, state)
	}
}

// trySendRight is the mirror of trySendLeft over the worker's maximum
// record and the right neighbour's left inbox.
func (w *worker) trySendRight() (bool, error) {
	if w.rightPeer == nil {
		return false, nil
	}

	evict := w.full() && w.right.snapshot() == mailboxPleaseTakeRecord

	nb := w.rightPeer.left
	nb.mu.Lock()

	switch nb.state {
	case mailboxQuicksortInProgress, mailboxPleaseTakeRecord:
		nb.mu.Unlock()
		return false, nil

	case mailboxNoFreeSpace:
		nb.mu.Unlock()
		w.closeOwn(w.right)
		return false, nil

	case mailboxFailed:
		nb.mu.Unlock()
		w.closeOwn(w.right)
		if evict {
			return false, fmt.Errorf("%w: right neighbour failed with a record in flight",
				ErrMailboxProtocol)
		}
		return false, neighbourFailure{fmt.Errorf("%w: right neighbour failed", ErrMailboxProtocol)}

	case mailboxReadyForExchange:
		if w.live() == 0 {
			nb.mu.Unlock()
			return false, nil
		}

		balance := w.rightBalance.Load()
		inversion := w.out.Key(w.end-1, w.cfg.Key.Mask) > nb.bound
		if !(inversion && balance == 0) && balance >= 0 && !evict {
			nb.mu.Unlock()
			return false, nil
		}

		copy(nb.scratch, w.out.Record(w.end-1))
		nb.state = mailboxPleaseTakeRecord
		w.rightBalance.Add(1)
		w.monitor.progress.Add(1)
		nb.mu.Unlock()

		w.end--
		w.refreshBounds()
		return true, nil

	default:
		state := nb.state
		nb.mu.Unlock()
		return false, fmt.Errorf("%w: right neighbour left mailbox in %s",
			ErrMailboxProtocol, state)
	}
}

// tryTakeLeft consumes a record deposited into the worker's left inbox,
// inserting it at its sorted position. The insertion and the republished
// bound commit together under the inbox mutex.
func (w *worker) tryTakeLeft() (bool, error) {
	m := w.left
	m.mu.Lock()

	if m.state != mailboxPleaseTakeRecord {
		m.mu.Unlock()
		return false, nil
	}

	if w.full() {
		// No slot; the eviction send has to free one first.
		m.mu.Unlock()
		return false, nil
	}

	if err := w.insert(m.scratch, true); err != nil {
		m.mu.Unlock()
		return false, err
	}

	m.bound = w.minKey()
	m.state = mailboxReadyForExchange
	w.leftBalance.Add(-1)
	w.monitor.progress.Add(1)
	m.mu.Unlock()

	w.right.setBound(w.maxKey())
	return true, nil
}

// tryTakeRight is the mirror of tryTakeLeft for the right inbox.
func (w *worker) tryTakeRight() (bool, error) {
	m := w.right
	m.mu.Lock()

	if m.state != mailboxPleaseTakeRecord {
		m.mu.Unlock()
		return false, nil
	}

	if w.full() {
		m.mu.Unlock()
		return false, nil
	}

	if err := w.insert(m.scratch, false); err != nil {
		m.mu.Unlock()
		return false, err
	}

	m.bound = w.maxKey()
	m.state = mailboxReadyForExchange
	w.rightBalance.Add(-1)
	w.monitor.progress.Add(1)
	m.mu.Unlock()

	w.left.setBound(w.minKey())
	return true, nil
}

// insert places record at its sorted position within the live window,
// consuming a free slot at the head or the tail. fromLeft prefers the
// head hole, which the worker's own sends to the left produce.
func (w *worker) insert(record []byte, fromLeft bool) error {
	key := w.layout.deriveKey(record, w.cfg.Key.Mask)

	pos := w.start + sort.Search(w.live(), func(j int) bool {
		return w.out.Key(w.start+j, w.cfg.Key.Mask) >= key
	})

	headRoom := w.start > 0
	tailRoom := w.end < w.layout.PortionCapacity
	if !headRoom && !tailRoom {
		return fmt.Errorf("%w: no free slot in window [%d, %d)",
			ErrOutOfRange, w.start, w.end)
	}

	useHead := headRoom && (fromLeft || !tailRoom)

	buf := w.out.Bytes()
	size := w.layout.RecordSize()

	if useHead {
		copy(buf[(w.start-1)*size:], buf[w.start*size:pos*size])
		copy(w.out.Record(pos-1), record[:size])
		w.start--
	} else {
		copy(buf[(pos+1)*size:(w.end+1)*size], buf[pos*size:w.end*size])
		copy(w.out.Record(pos), record[:size])
		w.end++
	}

	return nil
}

// compact re-anchors the live window at the head of the portion and
// zeroes the freed tail, so the sorted output is a live prefix like every
// other algorithm's.
func (w *worker) compact() {
	size := w.layout.RecordSize()
	buf := w.out.Bytes()

	if w.start > 0 {
		copy(buf, buf[w.start*size:w.end*size])
	}

	for i := (w.end - w.start) * size; i < len(buf); i++ {
		buf[i] = 0
	}

	w.end -= w.start
	w.start = 0
}

// exchangeMonitor is the pool-side quiescence detector for SORT runs. The
// progress counter is bumped inside every successful mailbox transition;
// workers publish the progress value their last unproductive pass
// observed. When all live workers are idle against the current counter,
// the monitor grabs every mailbox mutex in worker order, re-verifies that
// nothing moved, nothing is in flight and every edge balance is even, and
// latches all open mailboxes to NO_FREE_SPACE.
type exchangeMonitor struct {
	progress atomic.Uint64
	workers  []*worker
}

// run drives close attempts until the pool stops the monitor.
func (m *exchangeMonitor) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if m.tryClose() {
			return
		}

		time.Sleep(20 * time.Microsecond)
	}
}

func (m *exchangeMonitor) tryClose() bool {
	observed := m.progress.Load()

	for _, w := range m.workers {
		if w.done.Load() {
			continue
		}
		if w.idleAt.Load() != observed {
			return false
		}
	}

	mailboxes := make([]*mailbox, 0, 2*len(m.workers))
	for _, w := range m.workers {
		mailboxes = append(mailboxes, w.left, w.right)
	}
	for _, mb := range mailboxes {
		mb.mu.Lock()
	}

	quiesced := m.progress.Load() == observed
	if quiesced {
		for _, mb := range mailboxes {
			if mb.state == mailboxPleaseTakeRecord ||
				mb.state == mailboxQuicksortInProgress {
				quiesced = false
				break
			}
		}
	}
	if quiesced {
		// Balances are checked per edge; an edge with a failed endpoint
		// cannot drain its swap debt and never blocks the close.
		for i := 0; i+1 < len(m.workers); i++ {
			left, right := m.workers[i], m.workers[i+1]
			if left.right.state == mailboxFailed || right.left.state == mailboxFailed {
				continue
			}
			if left.rightBalance.Load() != 0 || right.leftBalance.Load() != 0 {
				quiesced = false
				break
			}
		}
	}

	if quiesced {
		for _, mb := range mailboxes {
			if mb.state == mailboxReadyForExchange {
				mb.state = mailboxNoFreeSpace
			}
		}
	}

	for _, mb := range mailboxes {
		mb.mu.Unlock()
	}

	return quiesced
}
