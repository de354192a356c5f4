// Package guardrails screens inbound messages before they reach the model
// and outbound replies before they reach the lead.
package guardrails

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"sdr-agent/internal/logging"
)

// Input verdict reasons.
const (
	ReasonAllowed   = "allowed"
	ReasonTopic     = "topic_blocked"
	ReasonInjection = "injection_attempt"
	ReasonModerated = "moderation_flagged"
)

const (
	TopicPolitics   = "política"
	TopicReligion   = "religión"
	TopicCompetitor = "competencia"
)

var blockedTopics = []string{
	TopicPolitics,
	TopicReligion,
	TopicCompetitor,
	"otros clientes",
	"información confidencial",
}

var injectionPatterns = compileAll(
	`ignora.*instrucciones`,
	`olvida.*sistema`,
	`actúa como`,
	`pretende ser`,
	`jailbreak`,
)

// blockedOutput are phrases the agent must never send: exact prices, free
// offers, guarantees.
var blockedOutput = compileAll(
	`(?i)precio exacto`,
	`(?i)cuánto cuesta exactamente`,
	`(?i)cuesta \$?\d+`,
	`(?i)gratis`,
	`(?i)sin costo`,
	`(?i)garantizo`,
	`(?i)prometo`,
)

const (
	redacted        = "[información confidencial]"
	genericFallback = "Gracias por tu interés. Para darte información más precisa, ¿te gustaría agendar una llamada con nuestro equipo?"
	focusDeflection = "Prefiero mantener nuestra conversación enfocada en cómo podemos ayudar a tu negocio. ¿En qué área de automatización puedo ayudarte?"
)

var deflections = map[string]string{
	TopicPolitics:   focusDeflection,
	TopicReligion:   focusDeflection,
	TopicCompetitor: "No tengo información detallada sobre otras empresas, pero puedo contarte todo sobre nuestras soluciones. ¿Qué necesidad específica tienes?",
}

// DefaultDeflection answers anything blocked without a topic-specific reply.
const DefaultDeflection = "Eso está fuera de mi área de conocimiento. ¿Hay algo sobre automatización o IA para tu empresa en lo que pueda ayudarte?"

// Verdict is the outcome of screening one inbound message.
type Verdict struct {
	Allowed bool
	Reason  string
	Topic   string
}

// CheckInput blocks off-limits topics and prompt injection attempts.
func CheckInput(message string) Verdict {
	lower := strings.ToLower(message)
	for _, topic := range blockedTopics {
		if strings.Contains(lower, topic) {
			return Verdict{Reason: ReasonTopic, Topic: topic}
		}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(lower) {
			return Verdict{Reason: ReasonInjection}
		}
	}
	return Verdict{Allowed: true, Reason: ReasonAllowed}
}

// Deflection returns the reply sent instead of running the pipeline.
func Deflection(topic string) string {
	if d, ok := deflections[topic]; ok {
		return d
	}
	return DefaultDeflection
}

// CheckOutput reports whether a reply is free of blocked phrases.
func CheckOutput(reply string) bool {
	for _, re := range blockedOutput {
		if re.MatchString(reply) {
			return false
		}
	}
	return true
}

// SanitizeOutput redacts blocked phrases. If the result still fails the
// check a generic invitation to schedule is returned instead.
func SanitizeOutput(reply string) string {
	if CheckOutput(reply) {
		return reply
	}
	for _, re := range blockedOutput {
		reply = re.ReplaceAllString(reply, redacted)
	}
	if CheckOutput(reply) {
		return reply
	}
	return genericFallback
}

// Moderator flags unsafe content. *openai.Client satisfies it.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Guard combines the static input checks with optional model moderation.
type Guard struct {
	moderator Moderator
	logger    *slog.Logger
}

type Option func(*Guard)

func WithModerator(m Moderator) Option {
	return func(g *Guard) { g.moderator = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Screen returns the verdict for message. Moderation failures let the message
// through; the static checks still apply.
func (g *Guard) Screen(ctx context.Context, message string) Verdict {
	v := CheckInput(message)
	if !v.Allowed || g.moderator == nil {
		return v
	}
	flagged, err := g.moderator.Moderate(ctx, message)
	if err != nil {
		g.logger.Warn("moderation unavailable", "err", err)
		return v
	}
	if flagged {
		return Verdict{Reason: ReasonModerated}
	}
	return v
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
