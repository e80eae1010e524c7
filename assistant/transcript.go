package assistant

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmaster/domain"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const defaultTranscriptLimit = 500

// Entry is one chat message.
type Entry struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Action    domain.Action `json:"action,omitempty"`
	Success   bool          `json:"success"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Transcript keeps the most recent chat entries in memory.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	now     func() time.Time
}

func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = defaultTranscriptLimit
	}
	return &Transcript{limit: limit, now: time.Now}
}

func (t *Transcript) Append(e Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.limit; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	return e
}

// Entries returns a copy of the transcript, oldest first.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}
