package job

// Store persists per-job dispatch records, either in memory or on disk.
// Put must replace the record for its job id; ListOpen feeds crash
// recovery.
type Store interface {
	Put(rec *Record) error
	Get(id string) (*Record, error)
	List(limit, offset int, state string) ([]*Record, int)
	ListOpen() ([]*Record, error)
	Delete(id string) error
	Stats() Stats
}

type Stats struct {
	Matching  int `json:"matching"`
	Offering  int `json:"offering"`
	Assigned  int `json:"assigned"`
	Escalated int `json:"escalated"`
	Cancelled int `json:"cancelled"`
}

func (s *Stats) count(state State) {
	switch state {
	case StateMatching:
		s.Matching++
	case StateOffering:
		s.Offering++
	case StateAssigned:
		s.Assigned++
	case StateEscalated:
		s.Escalated++
	case StateCancelled:
		s.Cancelled++
	}
}
