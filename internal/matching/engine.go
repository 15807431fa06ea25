package matching

import (
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/job"
)

// Scoring weights, descending priority: proximity dominates, then
// acceptance history, then current load. Jitter is just enough to keep
// rarely picked contractors from starving on identical scores.
const (
	weightProximity  = 0.45
	weightAcceptance = 0.30
	weightLoad       = 0.20
	weightJitter     = 0.05
)

// Engine ranks eligible contractors for a job. Stateless: the same job,
// inputs and seed always produce the same ranking. The jitter draw is
// keyed by job id so identical scores do not hand the same contractor
// the same bonus on every job.
type Engine struct {
	est  geo.Estimator
	seed int64
}

func New(est geo.Estimator, seed int64) *Engine {
	return &Engine{est: est, seed: seed}
}

type scored struct {
	c     contractor.Contractor
	score float64
}

// Rank orders the eligible set best-first. An empty eligible set yields
// an empty list; the caller treats that as escalation, not an error.
func (e *Engine) Rank(j *job.Job, eligible []contractor.Contractor) []contractor.Contractor {
	if len(eligible) == 0 {
		return nil
	}

	// Fix candidate order before drawing jitter so the ranking depends
	// only on the job, inputs and seed.
	candidates := append([]contractor.Contractor(nil), eligible...)
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].ID < candidates[b].ID })

	rng := rand.New(rand.NewSource(e.jobSeed(j.ID)))
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		eta := e.est.EstimateResponse(c.Location, j.Location)
		s := weightProximity*proximityScore(eta.Minutes()) +
			weightAcceptance*c.Performance.AcceptanceRate() +
			weightLoad*(1-c.Load()) +
			weightJitter*rng.Float64()
		ranked = append(ranked, scored{c: c, score: s})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].c.ID < ranked[b].c.ID
	})

	out := make([]contractor.Contractor, len(ranked))
	for i, s := range ranked {
		out[i] = s.c
	}
	return out
}

func (e *Engine) jobSeed(jobID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(jobID))
	return e.seed ^ int64(h.Sum64())
}

// proximityScore maps an ETA in minutes to (0,1], 1 at zero distance,
// halved at 15 minutes out.
func proximityScore(etaMinutes float64) float64 {
	if etaMinutes < 0 {
		etaMinutes = 0
	}
	return 1 / (1 + etaMinutes/15)
}
