package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/geo"
)

// dialContractor connects a test client to the contractor endpoint and
// returns the connection plus the id the server assigned in its ack.
func dialContractor(t *testing.T, s *Server) (context.Context, *websocket.Conn, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.HandleContractor))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	var ack AckMessage
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.ContractorID == "" {
		t.Fatal("ack carried no contractor id")
	}
	return ctx, conn, ack.ContractorID
}

func waitContractor(t *testing.T, reg *contractor.Registry, id string, ok func(contractor.Contractor) bool) contractor.Contractor {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, found := reg.Get(id); found && ok(c) {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := reg.Get(id)
	t.Fatalf("timed out waiting on contractor %s, last state: %+v", id, c)
	return c
}

func TestReadyRegistersProfile(t *testing.T) {
	reg := contractor.NewRegistry(geo.NewHaversineEstimator(30))
	s := NewServer(reg)
	ctx, conn, id := dialContractor(t, s)

	ready := ReadyMessage{
		Type:            "ready",
		Certification:   3,
		Location:        geo.Point{Lat: 1, Lng: 2},
		ServiceRadiusKm: 25,
	}
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		t.Fatalf("write ready: %v", err)
	}

	c := waitContractor(t, reg, id, func(c contractor.Contractor) bool {
		return c.Availability == contractor.Available
	})
	if c.Certification != 3 {
		t.Errorf("expected certification 3, got %d", c.Certification)
	}
	if c.ServiceArea.RadiusKm != 25 {
		t.Errorf("expected 25km radius, got %f", c.ServiceArea.RadiusKm)
	}
}

// A job_completed message that fails to decode must not count as a
// completion for the sender.
func TestJobCompletedMalformedIgnored(t *testing.T) {
	reg := contractor.NewRegistry(geo.NewHaversineEstimator(30))
	s := NewServer(reg)
	ctx, conn, id := dialContractor(t, s)

	// job_id carries the wrong type.
	bad := []byte(`{"type":"job_completed","job_id":123}`)
	if err := conn.Write(ctx, websocket.MessageText, bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Write(ctx, conn, JobCompletedMessage{Type: "job_completed", JobID: "j1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitContractor(t, reg, id, func(c contractor.Contractor) bool {
		return c.Performance.JobsCompleted >= 1
	})
	time.Sleep(50 * time.Millisecond)

	c, _ := reg.Get(id)
	if c.Performance.JobsCompleted != 1 {
		t.Errorf("expected 1 completed job, got %d", c.Performance.JobsCompleted)
	}
}
