package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fieldline/dispatchd/internal/bus"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/job"
)

// JobSource is the read side the customer feed needs for its initial
// snapshot.
type JobSource interface {
	Job(id string) (*job.Record, error)
}

// Server is the websocket Dispatch Bus: it pushes offers to connected
// contractors, pushes status events to customer job feeds, and turns
// accept/reject messages into OfferResponses for the engine.
type Server struct {
	registry *contractor.Registry
	jobs     JobSource

	connsMu sync.RWMutex
	conns   map[string]*websocket.Conn

	feedsMu sync.RWMutex
	feeds   map[string]map[*websocket.Conn]bool

	responses chan bus.OfferResponse
}

func NewServer(reg *contractor.Registry) *Server {
	return &Server{
		registry:  reg,
		conns:     make(map[string]*websocket.Conn),
		feeds:     make(map[string]map[*websocket.Conn]bool),
		responses: make(chan bus.OfferResponse, 64),
	}
}

func (s *Server) SetJobSource(src JobSource) {
	s.jobs = src
}

// SendOffer implements bus.Bus over the contractor's websocket.
func (s *Server) SendOffer(ctx context.Context, ev bus.OfferEvent) error {
	s.connsMu.RLock()
	conn, ok := s.conns[ev.ContractorID]
	s.connsMu.RUnlock()
	if !ok {
		return bus.ErrUnreachable
	}

	msg := OfferMessage{
		Type:            "offer",
		JobID:           ev.JobID,
		OfferInstanceID: ev.OfferInstanceID,
		Tier:            ev.Tier,
		Location:        ev.Location,
		PriceMultiplier: ev.PriceMultiplier,
		ExpiresAt:       ev.ExpiresAt,
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, msg); err != nil {
		log.Printf("Failed to send offer to %s: %v", ev.ContractorID, err)
		return bus.ErrUnreachable
	}
	return nil
}

// SendStatus pushes a status event to every feed watching the job.
func (s *Server) SendStatus(ctx context.Context, ev bus.StatusEvent) error {
	s.feedsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.feeds[ev.JobID]))
	for conn := range s.feeds[ev.JobID] {
		conns = append(conns, conn)
	}
	s.feedsMu.RUnlock()

	for _, conn := range conns {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := wsjson.Write(wctx, conn, ev); err != nil {
			log.Printf("Status push for job %s failed: %v", ev.JobID, err)
		}
		cancel()
	}
	return nil
}

func (s *Server) Responses() <-chan bus.OfferResponse {
	return s.responses
}

// HandleContractor is the contractor endpoint. A contractor connects,
// announces itself ready with its profile, then receives offers and
// answers with accept/reject messages.
func (s *Server) HandleContractor(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	c := contractor.New()
	s.registry.Add(c)

	s.connsMu.Lock()
	s.conns[c.ID] = conn
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, c.ID)
		s.connsMu.Unlock()
		// Mid-offer the registry keeps ownership; the offer timer will
		// release the reservation.
		s.registry.SetAvailability(c.ID, contractor.Offline)
		log.Printf("Contractor disconnected: %s", c.ID)
	}()

	ack := AckMessage{Type: "ack", ContractorID: c.ID, Message: "Welcome!"}
	if err := wsjson.Write(r.Context(), conn, ack); err != nil {
		log.Printf("Failed to send ack: %v", err)
		return
	}

	s.handleMessages(r.Context(), conn, c.ID)
}

func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, contractorID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case "ready":
			var ready ReadyMessage
			if err := json.Unmarshal(data, &ready); err != nil {
				log.Printf("Invalid ready message: %v", err)
				continue
			}
			area := geo.Area{Center: ready.Location, RadiusKm: ready.ServiceRadiusKm}
			s.registry.UpdateProfile(contractorID, ready.Certification, ready.Location, area, ready.MaxConcurrentJobs)
			s.registry.SetAvailability(contractorID, contractor.Available)
			log.Printf("Contractor %s ready (cert %d, radius %.1fkm)", contractorID, ready.Certification, ready.ServiceRadiusKm)

		case "accept", "reject":
			var dec DecisionMessage
			if err := json.Unmarshal(data, &dec); err != nil {
				log.Printf("Invalid decision message: %v", err)
				continue
			}
			decision := bus.DecisionReject
			if msg.Type == "accept" {
				decision = bus.DecisionAccept
			}
			s.responses <- bus.OfferResponse{
				JobID:           dec.JobID,
				ContractorID:    contractorID,
				OfferInstanceID: dec.OfferInstanceID,
				Decision:        decision,
			}

		case "heartbeat":
			s.registry.Heartbeat(contractorID)
			hb := HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}
			if err := wsjson.Write(ctx, conn, hb); err != nil {
				log.Printf("Heartbeat reply to %s failed: %v", contractorID, err)
			}

		case "job_completed":
			var done JobCompletedMessage
			if err := json.Unmarshal(data, &done); err != nil {
				log.Printf("Invalid job_completed message: %v", err)
				continue
			}
			s.registry.JobCompleted(contractorID)
			log.Printf("Contractor %s completed job %s", contractorID, done.JobID)

		case "pause":
			s.registry.SetAvailability(contractorID, contractor.Offline)

		case "quit":
			log.Printf("Contractor %s quit", contractorID)
			return

		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// HandleJobFeed is the customer-facing status feed for one job. The
// current state is sent on connect, then every transition as it happens.
func (s *Server) HandleJobFeed(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var snapshot *job.Record
	if s.jobs != nil {
		rec, err := s.jobs.Job(jobID)
		if err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		snapshot = rec
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	if snapshot != nil {
		ev := bus.StatusEvent{
			JobID:        jobID,
			State:        snapshot.Job.State,
			ContractorID: snapshot.Job.ContractorID,
			At:           time.Now().UTC(),
		}
		if err := wsjson.Write(r.Context(), conn, ev); err != nil {
			return
		}
	}

	s.feedsMu.Lock()
	if s.feeds[jobID] == nil {
		s.feeds[jobID] = make(map[*websocket.Conn]bool)
	}
	s.feeds[jobID][conn] = true
	s.feedsMu.Unlock()

	defer func() {
		s.feedsMu.Lock()
		delete(s.feeds[jobID], conn)
		if len(s.feeds[jobID]) == 0 {
			delete(s.feeds, jobID)
		}
		s.feedsMu.Unlock()
	}()

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}
