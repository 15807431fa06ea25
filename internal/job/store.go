package job

import (
	"fmt"
	"sync"
)

// MemoryStore keeps dispatch records in memory, insertion-ordered.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Put(rec *Record) error {
	if rec == nil || rec.Job == nil {
		return fmt.Errorf("record has no job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Job.ID]; !ok {
		s.order = append(s.order, rec.Job.ID)
	}
	s.records[rec.Job.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) List(limit, offset int, state string) ([]*Record, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Record
	for _, id := range s.order {
		rec := s.records[id]
		if state == "" || string(rec.Job.State) == state {
			filtered = append(filtered, rec.Clone())
		}
	}

	total := len(filtered)
	if offset >= total {
		return []*Record{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total
}

func (s *MemoryStore) ListOpen() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []*Record
	for _, id := range s.order {
		if rec := s.records[id]; !rec.Job.State.Terminal() {
			open = append(open, rec.Clone())
		}
	}
	return open, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, rec := range s.records {
		st.count(rec.Job.State)
	}
	return st
}
