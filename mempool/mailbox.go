package mempool

import "sync"

// mailboxState enumerates the per-mailbox protocol states of the
// neighbour exchange.
type mailboxState int

const (
	mailboxUnknown mailboxState = iota
	// mailboxQuicksortInProgress: the owner has not finished its local
	// sort; the neighbour must not peek at the bound.
	mailboxQuicksortInProgress
	// mailboxReadyForExchange: the owner has published its boundary key
	// and the slot is free to receive a record.
	mailboxReadyForExchange
	// mailboxPleaseTakeRecord: the producer has deposited a record into
	// the slot; the owner must consume it.
	mailboxPleaseTakeRecord
	// mailboxNoFreeSpace: this side of the edge is closed, no further
	// migration happens across it. Terminal.
	mailboxNoFreeSpace
	// mailboxFailed: terminal error state.
	mailboxFailed
)

func (s mailboxState) String() string {
	switch s {
	case mailboxUnknown:
		return "UNKNOWN"
	case mailboxQuicksortInProgress:
		return "QUICKSORT_IN_PROGRESS"
	case mailboxReadyForExchange:
		return "READY_FOR_EXCHANGE"
	case mailboxPleaseTakeRecord:
		return "PLEASE_TAKE_RECORD"
	case mailboxNoFreeSpace:
		return "NO_FREE_SPACE"
	case mailboxFailed:
		return "FAILED"
	}
	return "INVALID"
}

// mailbox is a single-slot exchange cell owned by one worker on one of its
// edges. The owner consumes records deposited into scratch by the
// neighbouring producer and advertises its current boundary key through
// bound. Every read-modify-write of the cell happens under mu, held for
// the whole transition.
//
// For the edge (k, k+1), w_k.right and w_{k+1}.left are paired: w_k
// deposits into w_{k+1}.left and vice versa.
type mailbox struct {
	mu    sync.Mutex
	state mailboxState
	// bound is the owner's extremal key on this edge: the minimum for a
	// left mailbox, the maximum for a right one. A worker whose live
	// window is empty advertises inverted bounds (max u64 on the left, 0 on
	// the right), so no neighbour initiates a migration towards it.
	bound uint64
	// scratch holds exactly one in-flight record.
	scratch []byte
}

func newMailbox(recordSize int, state mailboxState) *mailbox {
	return &mailbox{
		state:   state,
		scratch: make([]byte, recordSize),
	}
}

// setState transitions the mailbox under its own lock.
func (m *mailbox) setState(s mailboxState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// setBound republishes the boundary key without touching the state.
func (m *mailbox) setBound(bound uint64) {
	m.mu.Lock()
	m.bound = bound
	m.mu.Unlock()
}

// snapshot returns the current state without blocking on an in-flight
// transition longer than the lock hold.
func (m *mailbox) snapshot() mailboxState {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()
	return s
}

// closed reports whether the mailbox reached a terminal state.
func (s mailboxState) closed() bool {
	return s == mailboxNoFreeSpace || s == mailboxFailed
}
