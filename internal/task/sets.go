package task

import "sync"

// activeSet maps running tasks to their cancellation handles.
// A claimed task has a nil handle until its backend accepted it.
type activeSet struct {
	mu      sync.RWMutex
	handles map[*Task]*Handle
	kinds   map[string]int
}

func newActiveSet() *activeSet {
	return &activeSet{
		handles: make(map[*Task]*Handle),
		kinds:   make(map[string]int),
	}
}

type claimResult int

const (
	claimed claimResult = iota
	claimHeld
	claimKindBusy
)

// claim reserves a slot for t. With exclusive set, it fails while another
// task of the same kind is active.
func (s *activeSet) claim(t *Task, exclusive bool) claimResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[t]; ok {
		return claimHeld
	}
	if exclusive && s.kinds[t.Kind()] > 0 {
		return claimKindBusy
	}
	s.handles[t] = nil
	s.kinds[t.Kind()]++
	return claimed
}

// bind records the handle of a claimed task. It returns false if the task
// was released in the meantime.
func (s *activeSet) bind(t *Task, h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[t]; !ok {
		return false
	}
	s.handles[t] = h
	return true
}

func (s *activeSet) release(t *Task) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[t]
	if !ok {
		return nil, false
	}
	delete(s.handles, t)
	if s.kinds[t.Kind()]--; s.kinds[t.Kind()] <= 0 {
		delete(s.kinds, t.Kind())
	}
	return h, true
}

func (s *activeSet) contains(t *Task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[t]
	return ok
}

func (s *activeSet) hasKind(kind string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kinds[kind] > 0
}

// ended reports whether the backend run bound to t has returned
func (s *activeSet) ended(t *Task) bool {
	s.mu.RLock()
	h := s.handles[t]
	s.mu.RUnlock()
	if h == nil {
		return false
	}
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func (s *activeSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

func (s *activeSet) snapshot() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*Task, 0, len(s.handles))
	for t := range s.handles {
		tasks = append(tasks, t)
	}
	return tasks
}

// drain empties the set and returns what it held
func (s *activeSet) drain() map[*Task]*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := s.handles
	s.handles = make(map[*Task]*Handle)
	s.kinds = make(map[string]int)
	return handles
}

// orderedSet is an insertion-ordered set of tasks
type orderedSet struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[*Task]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[*Task]struct{})}
}

// add appends t unless it is already present
func (s *orderedSet) add(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[t]; ok {
		return false
	}
	s.index[t] = struct{}{}
	s.tasks = append(s.tasks, t)
	return true
}

// take removes t and returns the position it held
func (s *orderedSet) take(t *Task) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[t]; !ok {
		return -1, false
	}
	for i, candidate := range s.tasks {
		if candidate == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			delete(s.index, t)
			return i, true
		}
	}
	return -1, false
}

func (s *orderedSet) remove(t *Task) bool {
	_, ok := s.take(t)
	return ok
}

// insertAt puts t back at position i, or at the end if i is out of range
func (s *orderedSet) insertAt(i int, t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[t]; ok {
		return false
	}
	s.index[t] = struct{}{}
	if i < 0 || i >= len(s.tasks) {
		s.tasks = append(s.tasks, t)
		return true
	}
	s.tasks = append(s.tasks, nil)
	copy(s.tasks[i+1:], s.tasks[i:])
	s.tasks[i] = t
	return true
}

func (s *orderedSet) contains(t *Task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[t]
	return ok
}

func (s *orderedSet) hasKind(kind string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (s *orderedSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *orderedSet) snapshot() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Task(nil), s.tasks...)
}

func (s *orderedSet) clear() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks
	s.tasks = nil
	s.index = make(map[*Task]struct{})
	return tasks
}
