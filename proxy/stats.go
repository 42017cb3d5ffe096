package proxy

import "sync"

// trafficStats tracks request totals per caller identity for the periodic
// status log line.
type trafficStats struct {
	mu         sync.Mutex
	total      uint64
	byIdentity map[string]uint64
}

func newTrafficStats() *trafficStats {
	return &trafficStats{
		byIdentity: make(map[string]uint64),
	}
}

// observe counts one request for identity.
func (s *trafficStats) observe(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byIdentity[identity]++
}

// snapshot returns the running totals.
func (s *trafficStats) snapshot() (total uint64, uniqueIdentities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, len(s.byIdentity)
}
