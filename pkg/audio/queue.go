package audio

import "sync"

// FrameQueue is a bounded FIFO of captured frames connecting the real-time
// capture callback to the pipeline task that drains it. When the queue is
// full the oldest frame is dropped to make room, bounding end-to-end latency
// at the cost of losing the stalest audio. Every drop is counted.
//
// Push is non-blocking and safe to call from the capture callback; Pop blocks
// until a frame is available or the queue is closed.
type FrameQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   []Frame
	capacity int
	overruns int64
	closed   bool
}

// NewFrameQueue creates a queue holding at most capacity frames.
// A capacity below 1 is treated as 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &FrameQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame, dropping the oldest queued frame first when the queue
// is full. Pushing to a closed queue is a no-op.
func (q *FrameQueue) Push(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if len(q.frames) >= q.capacity {
		q.frames = q.frames[1:]
		q.overruns++
	}
	q.frames = append(q.frames, f)
	q.cond.Signal()
}

// Pop removes and returns the oldest frame, blocking until one is available.
// The second return value is false once the queue is closed and drained.
func (q *FrameQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Overruns returns the total number of frames dropped due to a full queue.
func (q *FrameQueue) Overruns() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns
}

// Close marks the queue closed and wakes all blocked readers. Queued frames
// remain poppable; Push becomes a no-op. Safe to call multiple times.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
