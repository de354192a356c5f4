package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/guardrails"
	"sdr-agent/internal/logging"
	"sdr-agent/internal/metrics"
	"sdr-agent/internal/pipeline"
)

const (
	defaultHistoryLimit  = 10
	defaultMaxMessageLen = 1000
	DefaultFallbackReply = "Lo siento, hubo un error. ¿Puedes intentar de nuevo?"
)

// Runner executes one pipeline run. *pipeline.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, conv *domain.Conversation, message string) (pipeline.Result, error)
}

// Locker serializes turns per identity. *session.Manager satisfies it.
type Locker interface {
	WithLock(ctx context.Context, id string, fn func(context.Context) error) error
}

// Screener vets inbound text before any model sees it. *guardrails.Guard
// satisfies it.
type Screener interface {
	Screen(ctx context.Context, message string) guardrails.Verdict
}

// TurnRecorder counts handled turns by outcome. *metrics.Recorder satisfies it.
type TurnRecorder interface {
	TurnHandled(outcome string)
}

type TurnService struct {
	engine   Runner
	store    pipeline.Checkpointer
	sessions Locker
	guard    Screener
	recorder TurnRecorder
	logger   *slog.Logger

	historyLimit  int
	maxMessageLen int
	fallback      string
}

type TurnOption func(*TurnService)

func WithGuard(g Screener) TurnOption {
	return func(s *TurnService) { s.guard = g }
}

func WithRecorder(r TurnRecorder) TurnOption {
	return func(s *TurnService) { s.recorder = r }
}

func WithLogger(logger *slog.Logger) TurnOption {
	return func(s *TurnService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistoryLimit sets how many stored messages are loaded per turn.
func WithHistoryLimit(n int) TurnOption {
	return func(s *TurnService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithMaxMessageLength(n int) TurnOption {
	return func(s *TurnService) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

// WithFallbackReply sets what HandleTurn answers when a turn fails.
func WithFallbackReply(reply string) TurnOption {
	return func(s *TurnService) {
		if strings.TrimSpace(reply) != "" {
			s.fallback = reply
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) TurnHandled(string) {}

func NewTurnService(engine Runner, store pipeline.Checkpointer, sessions Locker, opts ...TurnOption) (*TurnService, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: checkpoint store must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session locker must not be nil")
	}
	s := &TurnService{
		engine:        engine,
		store:         store,
		sessions:      sessions,
		recorder:      nopRecorder{},
		logger:        logging.NewNop(),
		historyLimit:  defaultHistoryLimit,
		maxMessageLen: defaultMaxMessageLen,
		fallback:      DefaultFallbackReply,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type TurnInput struct {
	Identity string
	Message  string
}

type TurnOutput struct {
	Reply      string
	From       domain.State
	State      domain.State
	Score      int
	LeadStatus string
	// Slots holds the appointment options offered with Reply, if any.
	Slots     []string
	Deflected bool
}

// FallbackReply is the text HandleTurn answers with when a turn fails.
func (s *TurnService) FallbackReply() string {
	return s.fallback
}

// HandleTurn answers one inbound message and never fails: any error is
// logged and replaced by the fallback reply. Whatever the pipeline already
// wrote for the turn stays written.
func (s *TurnService) HandleTurn(ctx context.Context, identity, message string) string {
	out, err := s.Process(ctx, TurnInput{Identity: identity, Message: message})
	if err != nil {
		return s.fallback
	}
	return out.Reply
}

// Process runs one turn and reports failures as *Error.
func (s *TurnService) Process(ctx context.Context, in TurnInput) (out TurnOutput, err error) {
	id := strings.TrimSpace(in.Identity)
	message := strings.TrimSpace(in.Message)
	log := s.logger.With("phone", logging.Phone(id))

	defer func() {
		if p := recover(); p != nil {
			err = newError(ErrorInternal, "panic", fmt.Errorf("%v", p))
		}
		var uerr *Error
		if errors.As(err, &uerr) {
			s.recorder.TurnHandled(metrics.TurnFallback)
			log.Error("turn failed", "code", uerr.Code, "reason", uerr.Reason, "err", uerr.Err)
		}
	}()

	switch {
	case id == "":
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_identity", nil)
	case message == "":
		return TurnOutput{}, newError(ErrorInvalidMessage, "empty_message", nil)
	case utf8.RuneCountInString(message) > s.maxMessageLen:
		return TurnOutput{}, newError(ErrorInvalidMessage, "message_too_long", nil)
	}

	if s.guard != nil {
		if v := s.guard.Screen(ctx, message); !v.Allowed {
			s.recorder.TurnHandled(metrics.TurnDeflected)
			log.Info("message deflected", "reason", v.Reason, "topic", v.Topic)
			return TurnOutput{Reply: guardrails.Deflection(v.Topic), Deflected: true}, nil
		}
	}

	lockErr := s.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		var runErr error
		out, runErr = s.runLocked(ctx, id, message)
		return runErr
	})
	if lockErr != nil {
		var uerr *Error
		if errors.As(lockErr, &uerr) {
			return TurnOutput{}, uerr
		}
		return TurnOutput{}, newError(ErrorInternal, "session_lock_error", lockErr)
	}

	s.recorder.TurnHandled(metrics.TurnOK)
	log.Info("turn handled",
		"from", out.From,
		"to", out.State,
		"score", out.Score,
		"lead_status", out.LeadStatus,
		"pii", piiKinds(message),
		"preview", guardrails.MaskPII(preview(message)),
	)
	return out, nil
}

func (s *TurnService) runLocked(ctx context.Context, id, message string) (TurnOutput, error) {
	conv, err := s.store.Load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		conv = domain.NewConversation(id)
		if err := s.store.Save(ctx, conv); err != nil {
			return TurnOutput{}, newError(ErrorInternal, "checkpoint_create_error", err)
		}
	case err != nil:
		return TurnOutput{}, newError(ErrorInternal, "checkpoint_load_error", err)
	}

	history, err := s.store.History(ctx, id, s.historyLimit)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "checkpoint_history_error", err)
	}
	conv.History = history

	res, err := s.engine.Run(ctx, conv, message)
	if err != nil {
		return TurnOutput{}, pipelineError(err)
	}
	reply := guardrails.SanitizeOutput(res.Reply)

	if err := s.store.Save(ctx, res.Conversation); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "checkpoint_save_error", err)
	}
	if err := s.store.AppendMessage(ctx, id, domain.DirectionInbound, message); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "message_write_error", err)
	}
	if err := s.store.AppendMessage(ctx, id, domain.DirectionOutbound, reply); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "message_write_error", err)
	}

	if len(res.Degraded) > 0 {
		s.logger.Warn("turn degraded", "phone", logging.Phone(id), "stages", res.Degraded)
	}
	return TurnOutput{
		Reply:      reply,
		From:       res.From,
		State:      res.Conversation.State,
		Score:      res.Conversation.Score,
		LeadStatus: res.Conversation.Breakdown.Status(),
		Slots:      append([]string(nil), res.Conversation.PendingOffer...),
	}, nil
}

// piiKinds lists the kinds of personal data in message, never the values.
func piiKinds(message string) []string {
	return slices.Sorted(maps.Keys(guardrails.DetectPII(message)))
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= 80 {
		return s
	}
	return string(r[:80]) + "..."
}
