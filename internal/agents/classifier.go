package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/pipeline"
)

// unparsedConfidence is reported when the model answer could not be read.
const unparsedConfidence = 0.3

type classifierAnswer struct {
	Primary     string         `json:"intencion_primaria"`
	Secondary   *string        `json:"intencion_secundaria"`
	Extractable bool           `json:"contiene_dato_extraible"`
	Detected    map[string]any `json:"datos_detectados"`
	Confidence  *flexFloat     `json:"confianza"`
}

// Classifier labels the intent of an inbound message.
type Classifier struct {
	llm     LLMClient
	profile Profile
}

func NewClassifier(llm LLMClient, profile Profile) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("agents: llm client must not be nil")
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &Classifier{llm: llm, profile: profile}, nil
}

// Classify returns an error only when the model call fails. An unreadable
// answer classifies as off-topic with low confidence.
func (c *Classifier) Classify(ctx context.Context, in pipeline.ClassifyInput) (domain.Classification, error) {
	raw, err := c.llm.Chat(ctx, domain.ChatRequest{
		Model: c.profile.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: classifierPrompt(c.profile, in.State, in.Facts)},
			{Role: domain.RoleUser, Content: fmt.Sprintf(
				"HISTORIAL RECIENTE:\n%s\n\nMENSAJE ACTUAL:\n%s",
				preview(in.Recent, "(Sin historial previo)"),
				in.Message,
			)},
		},
		Temperature: classifyTemperature,
		JSON:        true,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("agents: classify: %w", err)
	}
	return parseClassification(raw), nil
}

func parseClassification(raw string) domain.Classification {
	var ans classifierAnswer
	if err := decodeObject(raw, &ans); err != nil {
		return domain.Classification{Intent: domain.IntentOffTopic, Confidence: unparsedConfidence}
	}

	out := domain.Classification{
		Intent:      domain.ParseIntent(ans.Primary),
		Extractable: ans.Extractable,
		Confidence:  0.5,
	}
	if ans.Secondary != nil && strings.TrimSpace(*ans.Secondary) != "" {
		out.Secondary = domain.ParseIntent(*ans.Secondary)
	}
	if ans.Confidence != nil {
		out.Confidence = clampUnit(float64(*ans.Confidence))
	}
	if len(ans.Detected) > 0 {
		out.Detected = factsFromMap(ans.Detected)
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
