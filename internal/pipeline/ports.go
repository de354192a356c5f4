package pipeline

import (
	"context"
	"time"

	"sdr-agent/internal/domain"
)

// ClassifyInput is what the intent classifier sees.
type ClassifyInput struct {
	State   domain.State
	Facts   domain.Facts
	Recent  []domain.Turn
	Message string
}

// ExtractInput is what the fact extractor sees.
type ExtractInput struct {
	History []domain.Turn
	Message string
	Known   domain.Facts
}

// QualifyInput is what the qualifier sees.
type QualifyInput struct {
	History []domain.Turn
	Message string
	Known   domain.Facts
}

// ReplyInput parameterizes the generic contextual reply.
type ReplyInput struct {
	State     domain.State
	Objective string
	Facts     domain.Facts
	Recent    []domain.Turn
	Message   string
}

type IntentClassifier interface {
	Classify(ctx context.Context, in ClassifyInput) (domain.Classification, error)
}

type FactExtractor interface {
	Extract(ctx context.Context, in ExtractInput) (domain.Facts, error)
}

type Qualifier interface {
	Qualify(ctx context.Context, in QualifyInput) (domain.BANTScore, error)
}

// ResponseGenerator writes outbound messages. Reply calls the model; Closing
// and Confirmation are fixed templates.
type ResponseGenerator interface {
	Reply(ctx context.Context, in ReplyInput) (string, error)
	Closing(leadName string, slots []string) string
	Confirmation(leadName, date, timeOfDay string) string
}

// SlotProvider offers meeting slots, at most three, as opaque labels.
type SlotProvider interface {
	AvailableSlots(ctx context.Context, daysAhead int) ([]string, error)
}

// Checkpointer persists conversation state. Load returns
// domain.ErrConversationNotFound when nothing is stored for the identity.
type Checkpointer interface {
	Load(ctx context.Context, id string) (*domain.Conversation, error)
	Save(ctx context.Context, conv *domain.Conversation) error
	SaveFacts(ctx context.Context, id string, delta domain.Facts) error
	SaveScore(ctx context.Context, id string, score int, breakdown domain.BANTScore) error
	SaveState(ctx context.Context, id string, state domain.State) error
	AppendMessage(ctx context.Context, id string, direction domain.Direction, text string) error
	History(ctx context.Context, id string, limit int) ([]domain.Turn, error)
}

// Stage outcomes reported to an Observer.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use.
type Observer interface {
	StageDone(stage, outcome string, elapsed time.Duration)
	Transitioned(from, to domain.State, trigger domain.Trigger)
}

type nopObserver struct{}

func (nopObserver) StageDone(string, string, time.Duration)                {}
func (nopObserver) Transitioned(domain.State, domain.State, domain.Trigger) {}
