package ice

import "sync"

// candidateSet collects local candidates until gathering completes.
type candidateSet struct {
	mu     sync.Mutex
	items  []string
	closed bool
}

// add appends a candidate. It reports false once the set is closed.
func (s *candidateSet) add(candidate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.items = append(s.items, candidate)
	return true
}

// close seals the set and returns its contents. Only the first call reports
// ok.
func (s *candidateSet) close() (items []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	return append([]string{}, s.items...), true
}

// pendingCandidates holds remote candidates that arrived before the remote
// description was applied.
type pendingCandidates struct {
	items   []string
	flushed bool
}

func (p *pendingCandidates) push(candidate string) {
	p.items = append(p.items, candidate)
}

func (p *pendingCandidates) drain() []string {
	if p.flushed {
		return nil
	}
	p.flushed = true
	items := p.items
	p.items = nil
	return items
}
