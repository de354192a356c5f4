// Package pipeline runs one inbound message through the fixed sequence of
// agent stages and drives the conversation FSM.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/fsm"
)

// Stage names, also used as metric labels.
const (
	StageClassify   = "classify"
	StageExtract    = "extract"
	StageQualify    = "qualify"
	StageTransition = "transition"
	StageRespond    = "respond"
)

const (
	defaultClassifierWindow = 3
	defaultReplyWindow      = 5
	defaultSlotDaysAhead    = 7
	maxOfferedSlots         = 3
	defaultObjective        = "Responder de forma útil y guiar hacia agendar."
)

// Dependencies are the collaborators an Engine drives.
type Dependencies struct {
	Classifier IntentClassifier
	Extractor  FactExtractor
	Qualifier  Qualifier
	Responder  ResponseGenerator
	Slots      SlotProvider
	Store      Checkpointer
}

// Engine executes the stage graph. It holds no per-conversation state and is
// safe for concurrent use across identities.
type Engine struct {
	deps             Dependencies
	resolver         fsm.Resolver
	objectives       map[domain.State]string
	fallbackObj      string
	classifierWindow int
	replyWindow      int
	slotDaysAhead    int
	observer         Observer
	now              func() time.Time
}

type Option func(*Engine)

// WithResolver sets the trigger resolver (score thresholds).
func WithResolver(r fsm.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithObjectives sets the per-state purpose handed to the reply generator.
// fallback is used for states without an entry.
func WithObjectives(objectives map[domain.State]string, fallback string) Option {
	return func(e *Engine) {
		e.objectives = objectives
		if strings.TrimSpace(fallback) != "" {
			e.fallbackObj = fallback
		}
	}
}

// WithWindows sets how many recent turns the classifier and the reply
// generator see.
func WithWindows(classifier, reply int) Option {
	return func(e *Engine) {
		if classifier > 0 {
			e.classifierWindow = classifier
		}
		if reply > 0 {
			e.replyWindow = reply
		}
	}
}

// WithSlotDaysAhead sets the scheduling horizon passed to the SlotProvider.
func WithSlotDaysAhead(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.slotDaysAhead = days
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEngine validates the collaborators and builds an Engine.
func NewEngine(deps Dependencies, opts ...Option) (*Engine, error) {
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier must not be nil")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor must not be nil")
	case deps.Qualifier == nil:
		return nil, errors.New("pipeline: qualifier must not be nil")
	case deps.Responder == nil:
		return nil, errors.New("pipeline: responder must not be nil")
	case deps.Slots == nil:
		return nil, errors.New("pipeline: slot provider must not be nil")
	case deps.Store == nil:
		return nil, errors.New("pipeline: checkpoint store must not be nil")
	}
	e := &Engine{
		deps:             deps,
		resolver:         fsm.NewResolver(0, 0),
		fallbackObj:      defaultObjective,
		classifierWindow: defaultClassifierWindow,
		replyWindow:      defaultReplyWindow,
		slotDaysAhead:    defaultSlotDaysAhead,
		observer:         nopObserver{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result is the outcome of one run.
type Result struct {
	Reply        string
	Conversation *domain.Conversation
	From         domain.State
	Trigger      domain.Trigger
	// Degraded names the stages whose agent call failed and that continued
	// with no new information.
	Degraded []string
}

// run is the per-message scratch space shared by the stages.
type run struct {
	conv           *domain.Conversation
	message        string
	classification domain.Classification
	offered        []string
	reply          string
	degraded       []string
}

func (r *run) degrade(stage string) {
	r.degraded = append(r.degraded, stage)
}

type stage struct {
	name string
	when func(*run) bool
	exec func(context.Context, *run) error
}

func (e *Engine) stages() []stage {
	return []stage{
		{name: StageClassify, exec: e.classify},
		{name: StageExtract, when: shouldExtract, exec: e.extract},
		{name: StageQualify, when: shouldQualify, exec: e.qualify},
		{name: StageTransition, exec: e.transition},
		{name: StageRespond, exec: e.respond},
	}
}

// shouldExtract gates the extract stage: the classifier spotted facts, or the
// conversation is explicitly collecting them.
func shouldExtract(r *run) bool {
	return r.classification.Extractable || r.conv.State == domain.StateDataExtraction
}

// shouldQualify gates the qualify stage.
func shouldQualify(r *run) bool {
	switch r.conv.State {
	case domain.StateQualification, domain.StateClosing:
		return true
	}
	return r.conv.Facts.HasIdentity()
}

// Run mutates conv in place through every stage and returns the reply. Facts,
// score and state changes are written through to the store as they are
// computed; the caller persists the returned conversation as a whole.
func (e *Engine) Run(ctx context.Context, conv *domain.Conversation, message string) (Result, error) {
	if conv == nil {
		return Result{}, errors.New("pipeline: conversation must not be nil")
	}
	if !conv.State.Valid() {
		conv.State = domain.StateStart
	}

	r := &run{
		conv:    conv,
		message: message,
		offered: conv.PendingOffer,
	}
	// An offer is only valid for the turn right after it was made.
	conv.PendingOffer = nil
	from := conv.State

	for _, st := range e.stages() {
		if st.when != nil && !st.when(r) {
			e.observer.StageDone(st.name, OutcomeSkipped, 0)
			continue
		}
		started := time.Now()
		degradedBefore := len(r.degraded)
		if err := st.exec(ctx, r); err != nil {
			e.observer.StageDone(st.name, OutcomeFailed, time.Since(started))
			return Result{}, fmt.Errorf("pipeline: %s: %w", st.name, err)
		}
		outcome := OutcomeOK
		if len(r.degraded) > degradedBefore {
			outcome = OutcomeDegraded
		}
		e.observer.StageDone(st.name, outcome, time.Since(started))
	}

	conv.UpdatedAt = e.now().UTC()
	return Result{
		Reply:        r.reply,
		Conversation: conv,
		From:         from,
		Trigger:      conv.LastTrigger,
		Degraded:     r.degraded,
	}, nil
}

func (e *Engine) objective(s domain.State) string {
	if obj, ok := e.objectives[s]; ok && strings.TrimSpace(obj) != "" {
		return obj
	}
	return e.fallbackObj
}
