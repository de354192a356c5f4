package agents

import (
	"context"
	"errors"
	"fmt"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/pipeline"
)

// Extractor pulls structured lead facts out of the conversation.
type Extractor struct {
	llm     LLMClient
	profile Profile
}

func NewExtractor(llm LLMClient, profile Profile) (*Extractor, error) {
	if llm == nil {
		return nil, errors.New("agents: llm client must not be nil")
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &Extractor{llm: llm, profile: profile}, nil
}

// Extract returns only the facts the model reported; merging with what is
// already known is the caller's job. An unreadable answer yields no facts.
func (e *Extractor) Extract(ctx context.Context, in pipeline.ExtractInput) (domain.Facts, error) {
	raw, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.profile.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: extractorPrompt(e.profile, in.Known)},
			{Role: domain.RoleUser, Content: "CONVERSACIÓN:\n" + transcript(in.History, in.Message)},
		},
		Temperature: extractTemperature,
		JSON:        true,
	})
	if err != nil {
		return domain.Facts{}, fmt.Errorf("agents: extract: %w", err)
	}

	var payload map[string]any
	if err := decodeObject(raw, &payload); err != nil {
		return domain.Facts{}, nil
	}
	return factsFromMap(payload), nil
}
