package usecase

import (
	"strings"
	"sync"
	"time"

	"echocall/internal/domain"
)

// transcriptLog keeps the live transcript and suppresses repeated deliveries
// of the same line per role.
type transcriptLog struct {
	mu        sync.Mutex
	entries   []domain.TranscriptEntry
	lastUser  string
	lastAgent string
}

func newTranscriptLog() *transcriptLog {
	return &transcriptLog{}
}

// Add appends text unless it is empty or equals the previous line of the
// same role.
func (l *transcriptLog) Add(role domain.TranscriptRole, text string, at time.Time) (domain.TranscriptEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return domain.TranscriptEntry{}, false
	}

	last := &l.lastUser
	if role == domain.TranscriptRoleAgent {
		last = &l.lastAgent
	}
	if *last == text {
		return domain.TranscriptEntry{}, false
	}
	*last = text

	entry := domain.TranscriptEntry{Role: role, Text: text, At: at}
	l.entries = append(l.entries, entry)
	return entry, true
}

func (l *transcriptLog) Entries() []domain.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *transcriptLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.lastUser = ""
	l.lastAgent = ""
}
