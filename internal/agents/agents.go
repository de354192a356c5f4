// Package agents implements the pipeline collaborators on top of an
// OpenAI-compatible chat model.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"sdr-agent/internal/domain"
)

// LLMClient is the chat completion call the agents depend on.
// *openai.Client satisfies it.
type LLMClient interface {
	Chat(ctx context.Context, in domain.ChatRequest) (string, error)
}

// Profile carries the business details the prompts and templates need.
type Profile struct {
	CompanyName         string
	Model               string
	ConsultationMinutes int
	// TimezoneLabel is appended to confirmed meeting times, e.g. "Hora Colombia".
	TimezoneLabel string
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.CompanyName) == "" {
		return errors.New("agents: company name must not be empty")
	}
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("agents: model must not be empty")
	}
	return nil
}

const (
	classifyTemperature = 0.2
	extractTemperature  = 0.1
	qualifyTemperature  = 0.2
	replyTemperature    = 0.7
	replyMaxTokens      = 300

	// classifier history lines are cut to keep the prompt short
	historyPreviewRunes = 100
)

// decodeObject parses the model's answer as one JSON object. Providers in
// JSON mode sometimes wrap the object in prose or code fences, so the
// outermost {...} span is tried when the whole answer does not parse.
func decodeObject(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("agents: no JSON object in model answer")
	}
	dec := json.NewDecoder(bytes.NewBufferString(raw[start : end+1]))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("agents: decode model answer: %w", err)
	}
	return nil
}

func speaker(d domain.Direction) string {
	if d == domain.DirectionOutbound {
		return "Agente"
	}
	return "Usuario"
}

// transcript renders turns one per line, followed by the current message.
func transcript(turns []domain.Turn, current string) string {
	lines := make([]string, 0, len(turns)+1)
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", speaker(t.Direction), t.Text))
	}
	if current != "" {
		lines = append(lines, "Usuario: "+current)
	}
	return strings.Join(lines, "\n")
}

// preview renders turns with each text cut to historyPreviewRunes.
func preview(turns []domain.Turn, empty string) string {
	if len(turns) == 0 {
		return empty
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", speaker(t.Direction), truncate(t.Text, historyPreviewRunes)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func factsJSON(f domain.Facts) string {
	if f.IsEmpty() {
		return "{}"
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
