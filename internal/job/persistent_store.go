package job

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fieldline/dispatchd/internal/db"
)

const keyPrefix = "jobs/"

// PersistentStore keeps dispatch records in badger so in-flight jobs
// survive a restart.
type PersistentStore struct {
	dbStore *db.Store
}

func NewPersistentStore(dbStore *db.Store) *PersistentStore {
	return &PersistentStore{dbStore: dbStore}
}

func (s *PersistentStore) Put(rec *Record) error {
	if rec == nil || rec.Job == nil {
		return fmt.Errorf("record has no job")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.dbStore.Set(keyPrefix+rec.Job.ID, data); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

func (s *PersistentStore) Get(id string) (*Record, error) {
	data, err := s.dbStore.Get(keyPrefix + id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *PersistentStore) all() []*Record {
	keys, err := s.dbStore.List(keyPrefix, 0)
	if err != nil {
		return nil
	}

	var records []*Record
	for _, key := range keys {
		id := strings.TrimPrefix(key, keyPrefix)
		if id == "" {
			continue
		}
		rec, err := s.Get(id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *PersistentStore) List(limit, offset int, state string) ([]*Record, int) {
	var filtered []*Record
	for _, rec := range s.all() {
		if state == "" || string(rec.Job.State) == state {
			filtered = append(filtered, rec)
		}
	}

	// Most recent first.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Job.CreatedAt.After(filtered[j].Job.CreatedAt)
	})

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

func (s *PersistentStore) ListOpen() ([]*Record, error) {
	var open []*Record
	for _, rec := range s.all() {
		if !rec.Job.State.Terminal() {
			open = append(open, rec)
		}
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].Job.CreatedAt.Before(open[j].Job.CreatedAt)
	})
	return open, nil
}

func (s *PersistentStore) Delete(id string) error {
	return s.dbStore.Delete(keyPrefix + id)
}

func (s *PersistentStore) Stats() Stats {
	var st Stats
	for _, rec := range s.all() {
		st.count(rec.Job.State)
	}
	return st
}
