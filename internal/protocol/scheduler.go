package protocol

// roundQuota is the number of frames the most urgent non-empty priority
// level may send per scheduling round. Each following level gets half of the
// previous one's share, but never less than one frame, so no ready stream is
// starved no matter how busy the levels above it are.
const roundQuota = 32

// Scheduler decides the order in which frames queued by different streams
// are written to the shared channel. Streams with a lower priority value are
// served first; within one priority level frames leave in the order they
// were pushed, which also keeps every single stream's frames in submission
// order.
//
// The scheduler is not safe for concurrent use. The channel's writer is its
// only caller, which also makes the writer the sole writer of the underlying
// byte stream.
type Scheduler[T any] struct {
	queues [256][]T
	budget [256]int
	size   int
}

// CreateScheduler returns an empty scheduler.
func CreateScheduler[T any]() *Scheduler[T] {
	return &Scheduler[T]{}
}

// Push queues one frame at the given priority.
func (s *Scheduler[T]) Push(prio Prio, f T) {
	s.queues[prio] = append(s.queues[prio], f)
	s.size += 1
}

// Pop removes and returns the next frame to write. It returns false if no
// frame is queued.
func (s *Scheduler[T]) Pop() (T, bool) {
	if s.size == 0 {
		var zero T
		return zero, false
	}

	if f, ok := s.pop(true); ok {
		return f, true
	}

	// Every non-empty level exhausted its budget: start a new round.
	s.refill()

	return s.pop(false)
}

// Len returns the number of queued frames.
func (s *Scheduler[T]) Len() int {
	return s.size
}

func (s *Scheduler[T]) pop(budgeted bool) (T, bool) {
	for prio := 0; prio < len(s.queues); prio++ {
		q := s.queues[prio]
		if len(q) == 0 || (budgeted && s.budget[prio] <= 0) {
			continue
		}

		next := q[0]
		s.queues[prio] = q[1:]
		s.budget[prio] -= 1
		s.size -= 1

		return next, true
	}

	var zero T
	return zero, false
}

func (s *Scheduler[T]) refill() {
	quota := roundQuota

	for prio := 0; prio < len(s.queues); prio++ {
		if len(s.queues[prio]) == 0 {
			s.budget[prio] = 0
			continue
		}

		s.budget[prio] = quota
		if quota > 1 {
			quota >>= 1
		}
	}
}
