package mempool

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// worker evaluates the configured algorithm over one portion. All of its
// state is created at spawn and dropped at join; the only parts shared
// with other workers are the two mailboxes, each guarded by its own mutex.
type worker struct {
	id  int
	cfg *Config

	layout Layout
	in     *Portion
	out    *Portion

	// scratch holds one record for the swaps of the local quicksort.
	scratch []byte

	// left and right are this worker's own mailboxes; neighbours deposit
	// records into them. left pairs with leftPeer.right, right with
	// rightPeer.left.
	left  *mailbox
	right *mailbox

	leftPeer  *worker
	rightPeer *worker

	// start and end delimit the live, sorted window [start, end) of the
	// output portion during the exchange phase.
	start int
	end   int

	// leftBalance and rightBalance count sends minus takes per edge; a
	// negative balance obliges the worker to send its extremum back so
	// every migration completes as a swap.
	leftBalance  atomic.Int64
	rightBalance atomic.Int64

	monitor *exchangeMonitor

	// idleAt publishes the progress value observed at the start of the
	// last unproductive exchange pass; idleActive while work is found.
	idleAt atomic.Uint64
	// done tells the quiescence monitor to stop expecting idle reports
	// from this worker.
	done atomic.Bool

	log *zap.SugaredLogger
	err error
}

const idleActive = ^uint64(0)

func newWorker(id int, cfg *Config, in, out []byte, log *zap.SugaredLogger) (*worker, error) {
	layout := cfg.Layout()

	inPortion, err := NewPortion(layout, in)
	if err != nil {
		return nil, fmt.Errorf("worker %d: failed to bind input portion: %w", id, err)
	}

	outPortion, err := NewPortion(layout, out)
	if err != nil {
		return nil, fmt.Errorf("worker %d: failed to bind output portion: %w", id, err)
	}

	w := &worker{
		id:      id,
		cfg:     cfg,
		layout:  layout,
		in:      inPortion,
		out:     outPortion,
		scratch: make([]byte, layout.RecordSize()),
		log:     log.With("worker", id),
	}
	w.idleAt.Store(idleActive)

	return w, nil
}

// run dispatches the configured algorithm over the worker's portion. The
// terminal error is stored in the worker state; run itself always returns
// so the pool can join every worker.
func (w *worker) run(ctx context.Context) {
	w.log.Debugw("running algorithm",
		"algorithm", w.cfg.Algorithm,
		"records", w.layout.PortionCount)

	switch w.cfg.Algorithm {
	case AlgorithmKeyValue:
		w.err = w.runKeyValue()
	case AlgorithmSort:
		w.err = w.runSort(ctx)
	case AlgorithmSelect:
		w.err = w.runSelect()
	case AlgorithmTotal:
		w.err = w.runTotal()
	default:
		w.err = fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, w.cfg.Algorithm)
	}

	if w.err != nil {
		w.log.Errorw("algorithm failed", "algorithm", w.cfg.Algorithm, "error", w.err)
	}
}

// zeroOutput clears the whole output portion.
func (w *worker) zeroOutput() {
	buf := w.out.Bytes()
	for i := range buf {
		buf[i] = 0
	}
}

// projected is the number of output bytes one record produces under the
// key and value masks together.
func (w *worker) projected() int {
	return w.layout.selectedBytes(w.cfg.Key.Mask) +
		w.layout.selectedBytes(w.cfg.Value.Mask)
}

// runKeyValue projects the key items then the value items of every live
// record into the output portion behind a single byte cursor.
func (w *worker) runKeyValue() error {
	w.zeroOutput()

	recordBytes := w.projected()
	portionBytes := w.layout.PortionBytes()
	out := w.out.Bytes()

	cursor := 0
	for i := 0; i < w.layout.PortionCount; i++ {
		if err := w.in.checkIndex(i); err != nil {
			return fmt.Errorf("failed to copy record %d: %w", i, err)
		}

		if cursor+recordBytes > portionBytes {
			return fmt.Errorf("%w: written %d of %d bytes at record %d",
				ErrOutOfSpace, cursor, portionBytes, i)
		}

		record := w.in.Record(i)
		cursor = w.layout.project(out, cursor, record, w.cfg.Key.Mask)
		cursor = w.layout.project(out, cursor, record, w.cfg.Value.Mask)
	}

	return nil
}

// runSelect copies key then value items of the records whose derived key
// falls into [condition.min, condition.max).
func (w *worker) runSelect() error {
	w.zeroOutput()

	recordBytes := w.projected()
	portionBytes := w.layout.PortionBytes()
	out := w.out.Bytes()
	cond := w.cfg.Condition

	cursor := 0
	for i := 0; i < w.layout.PortionCount; i++ {
		if err := w.in.checkIndex(i); err != nil {
			return fmt.Errorf("failed to select record %d: %w", i, err)
		}

		key := w.in.Key(i, w.cfg.Key.Mask)
		if key < cond.Min || key >= cond.Max {
			continue
		}

		if cursor+recordBytes > portionBytes {
			return fmt.Errorf("%w: written %d of %d bytes at record %d",
				ErrOutOfSpace, cursor, portionBytes, i)
		}

		record := w.in.Record(i)
		cursor = w.layout.project(out, cursor, record, w.cfg.Key.Mask)
		cursor = w.layout.project(out, cursor, record, w.cfg.Value.Mask)
	}

	return nil
}

// runTotal accumulates, for every item position selected by the value
// mask, the little-endian sum of that item over all live records into
// record 0 of the output portion. Sums wrap modulo 2^(granularity×8).
func (w *worker) runTotal() error {
	w.zeroOutput()

	granularity := w.layout.Granularity
	accumulator := w.out.Record(0)

	for i := 0; i < w.layout.PortionCount; i++ {
		if err := w.in.checkIndex(i); err != nil {
			return fmt.Errorf("failed to accumulate record %d: %w", i, err)
		}

		record := w.in.Record(i)
		for p := 0; p < w.layout.RecordCapacity; p++ {
			if !w.cfg.Value.Mask.Selects(p, w.layout.RecordCapacity) {
				continue
			}

			item := record[p*granularity : (p+1)*granularity]
			total := accumulator[p*granularity : (p+1)*granularity]
			addLittleEndian(total, item)
		}
	}

	return nil
}

// addLittleEndian adds the little-endian integer src into dst in place,
// discarding the final carry. Both spans are one item long.
func addLittleEndian(dst, src []byte) {
	carry := uint16(0)
	for i := range dst {
		sum := uint16(dst[i]) + uint16(src[i]) + carry
		dst[i] = byte(sum)
		carry = sum >> 8
	}
}

// runSort copies the input portion to the output portion, sorts it in
// place by derived key and then joins the neighbour exchange until the
// worker's slice is globally positioned.
func (w *worker) runSort(ctx context.Context) error {
	copy(w.out.Bytes(), w.in.Bytes())

	count := w.layout.PortionCount
	quicksort(w.out, w.cfg.Key.Mask, w.scratch, 0, count-1)

	w.start, w.end = 0, count
	w.publishBounds()

	if err := w.exchange(ctx); err != nil {
		return err
	}

	w.compact()
	return nil
}
