package domain

import (
	"errors"
	"time"
)

// ErrConversationNotFound is returned by checkpoint stores when no state has
// been persisted for an identity.
var ErrConversationNotFound = errors.New("domain: conversation not found")

// Direction tells who sent a turn.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Turn is a single persisted message of a conversation.
type Turn struct {
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Conversation is the per-identity record threaded through one pipeline run.
type Conversation struct {
	ID           string
	State        State
	Facts        Facts
	Score        int
	Breakdown    BANTScore
	History      []Turn
	PendingOffer []string
	LastIntent   Intent
	LastTrigger  Trigger
	UpdatedAt    time.Time
}

// NewConversation returns the cold-start record for an identity.
func NewConversation(id string) *Conversation {
	return &Conversation{ID: id, State: StateStart}
}

// RecentHistory returns at most n of the latest turns in chronological order.
func (c *Conversation) RecentHistory(n int) []Turn {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// Classification is the intent classifier's judgment of one message.
type Classification struct {
	Intent      Intent
	Secondary   Intent
	Extractable bool
	Detected    Facts
	Confidence  float64
}

const maxSubScore = 25

// BANTScore holds the four qualification sub-scores.
type BANTScore struct {
	Budget                 int    `json:"budget"`
	Authority              int    `json:"authority"`
	Need                   int    `json:"need"`
	Timing                 int    `json:"timing"`
	BudgetJustification    string `json:"budgetJustification,omitempty"`
	AuthorityJustification string `json:"authorityJustification,omitempty"`
	NeedJustification      string `json:"needJustification,omitempty"`
	TimingJustification    string `json:"timingJustification,omitempty"`
}

// Clamped returns a copy with every sub-score bounded to [0,25].
func (b BANTScore) Clamped() BANTScore {
	b.Budget = clampSubScore(b.Budget)
	b.Authority = clampSubScore(b.Authority)
	b.Need = clampSubScore(b.Need)
	b.Timing = clampSubScore(b.Timing)
	return b
}

// Total is the sum of the clamped sub-scores, always in [0,100].
func (b BANTScore) Total() int {
	c := b.Clamped()
	return c.Budget + c.Authority + c.Need + c.Timing
}

// Status buckets the total for reporting.
func (b BANTScore) Status() string {
	switch total := b.Total(); {
	case total >= 60:
		return "hot"
	case total >= 40:
		return "warm"
	case total >= 20:
		return "cold"
	default:
		return "disqualified"
	}
}

func clampSubScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxSubScore {
		return maxSubScore
	}
	return v
}
