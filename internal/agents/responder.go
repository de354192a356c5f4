package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/pipeline"
)

// Responder writes the outbound messages: free replies through the model,
// closing and confirmation messages from fixed templates.
type Responder struct {
	llm     LLMClient
	profile Profile
}

func NewResponder(llm LLMClient, profile Profile) (*Responder, error) {
	if llm == nil {
		return nil, errors.New("agents: llm client must not be nil")
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}
	if profile.ConsultationMinutes <= 0 {
		profile.ConsultationMinutes = 15
	}
	return &Responder{llm: llm, profile: profile}, nil
}

func (r *Responder) Reply(ctx context.Context, in pipeline.ReplyInput) (string, error) {
	raw, err := r.llm.Chat(ctx, domain.ChatRequest{
		Model: r.profile.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: responderPrompt(r.profile, in)},
			{Role: domain.RoleUser, Content: in.Message},
		},
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agents: reply: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// Closing lists the offered slots and asks the lead to pick one.
func (r *Responder) Closing(leadName string, slots []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "¡Excelente%s! 🎯\n\n", namePart(leadName))
	b.WriteString("Me encantaría que hables directamente con nuestro equipo de soluciones.\n\n")
	fmt.Fprintf(&b, "Tenemos disponibilidad para una llamada de %d minutos:\n", r.profile.ConsultationMinutes)
	for i, slot := range slots {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "📅 %s\n", slot)
	}
	b.WriteString("\n¿Cuál te funciona mejor?")
	return b.String()
}

// Confirmation acknowledges the chosen slot.
func (r *Responder) Confirmation(leadName, date, timeOfDay string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ ¡Cita confirmada%s!\n\n", namePart(leadName))
	fmt.Fprintf(&b, "📅 Fecha: %s\n", date)
	if timeOfDay != "" {
		fmt.Fprintf(&b, "🕐 Hora: %s", timeOfDay)
		if label := strings.TrimSpace(r.profile.TimezoneLabel); label != "" {
			fmt.Fprintf(&b, " (%s)", label)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "⏱️ Duración: %d minutos\n\n", r.profile.ConsultationMinutes)
	b.WriteString("Te enviaré un recordatorio antes de la llamada. ¡Hasta pronto! 🚀")
	return b.String()
}

func namePart(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return ""
	}
	return ", " + name
}
