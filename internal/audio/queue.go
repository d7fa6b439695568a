package audio

import "sync"

// bufferQueue holds submitted buffers in order and completes each one once
// device data has filled it.
type bufferQueue struct {
	mu       sync.Mutex
	pending  [][]byte
	fill     int
	open     bool
	done     Completion
	overruns uint64
}

func (q *bufferQueue) reset(done Completion) {
	q.mu.Lock()
	q.pending = make([][]byte, 0, 4)
	q.fill = 0
	q.open = true
	q.done = done
	q.mu.Unlock()
}

func (q *bufferQueue) close() {
	q.mu.Lock()
	q.open = false
	q.pending = q.pending[:0]
	q.fill = 0
	q.mu.Unlock()
}

func (q *bufferQueue) submit(buf []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return ErrNotOpen
	}
	q.pending = append(q.pending, buf)
	return nil
}

// write spreads p over the queued buffers. Data arriving while no buffer is
// queued is dropped and counted as an overrun.
func (q *bufferQueue) write(p []byte) {
	for len(p) > 0 {
		q.mu.Lock()
		if !q.open {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.overruns++
			q.mu.Unlock()
			return
		}
		cur := q.pending[0]
		n := copy(cur[q.fill:], p)
		q.fill += n
		p = p[n:]

		var full []byte
		if q.fill == len(cur) {
			full = cur
			copy(q.pending, q.pending[1:])
			q.pending = q.pending[:len(q.pending)-1]
			q.fill = 0
		}
		done := q.done
		q.mu.Unlock()

		// the completion resubmits, so it runs without the lock
		if full != nil {
			done(full, len(full))
		}
	}
}

func (q *bufferQueue) overrunCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns
}
