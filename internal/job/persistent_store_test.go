package job

import (
	"testing"
	"time"

	"github.com/fieldline/dispatchd/internal/db"
	"github.com/fieldline/dispatchd/internal/geo"
)

func persistentStore(t *testing.T) *PersistentStore {
	t.Helper()
	dbStore, err := db.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { dbStore.Close() })
	return NewPersistentStore(dbStore)
}

func TestPersistentStore_RoundTrip(t *testing.T) {
	s := persistentStore(t)

	rec := record()
	rec.Remaining = []string{"c1", "c2"}
	rec.Attempts = 2
	rec.CurrentOffer = &Offer{
		ContractorID:    "c1",
		OfferInstanceID: "offer-1",
		SentAt:          time.Now().UTC(),
		Deadline:        time.Now().UTC().Add(time.Minute),
	}

	if err := s.Put(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(rec.Job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.Attempts)
	}
	if got.CurrentOffer == nil || got.CurrentOffer.OfferInstanceID != "offer-1" {
		t.Error("expected live offer to survive round trip")
	}
	if len(got.Remaining) != 2 || got.Remaining[0] != "c1" {
		t.Errorf("expected remaining candidates, got %v", got.Remaining)
	}
}

func TestPersistentStore_ListOpen(t *testing.T) {
	s := persistentStore(t)

	open := &Record{Job: New(tier3(), geo.Point{}, 0)}
	open.Job.State = StateOffering
	closed := &Record{Job: New(tier3(), geo.Point{}, 0)}
	closed.Job.State = StateAssigned

	s.Put(open)
	s.Put(closed)

	got, err := s.ListOpen()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Job.ID != open.Job.ID {
		t.Error("expected only the offering record")
	}
}

func TestPersistentStore_UpdateReplaces(t *testing.T) {
	s := persistentStore(t)

	rec := record()
	s.Put(rec)

	rec.Job.State = StateAssigned
	rec.Job.ContractorID = "c9"
	s.Put(rec)

	got, _ := s.Get(rec.Job.ID)
	if got.Job.State != StateAssigned || got.Job.ContractorID != "c9" {
		t.Error("expected updated record")
	}

	st := s.Stats()
	if st.Assigned != 1 || st.Matching != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestPersistentStore_Delete(t *testing.T) {
	s := persistentStore(t)

	rec := record()
	s.Put(rec)

	if err := s.Delete(rec.Job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(rec.Job.ID); err == nil {
		t.Error("expected record gone")
	}
}
