package engine

import "context"

// ReleaseMemory drops progress and resume data of every queued task. In-flight
// tasks are left alone.
func (s *Scheduler) ReleaseMemory() {
	s.mu.Lock()
	queues := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.releaseMemory()
	}
	s.log.Info("Released memory of %d queues", len(queues))
}

// WatchMemoryPressure calls ReleaseMemory for every signal received until ctx
// is done or signals is closed.
func (s *Scheduler) WatchMemoryPressure(ctx context.Context, signals <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			s.ReleaseMemory()
		}
	}
}
