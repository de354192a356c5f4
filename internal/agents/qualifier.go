package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/pipeline"
)

type qualifierAnswer struct {
	Budget                 flexInt `json:"budget_score"`
	BudgetJustification    string  `json:"budget_justification"`
	Authority              flexInt `json:"authority_score"`
	AuthorityJustification string  `json:"authority_justification"`
	Need                   flexInt `json:"need_score"`
	NeedJustification      string  `json:"need_justification"`
	Timing                 flexInt `json:"timing_score"`
	TimingJustification    string  `json:"timing_justification"`
}

// Qualifier scores the lead on the four BANT dimensions.
type Qualifier struct {
	llm     LLMClient
	profile Profile
}

func NewQualifier(llm LLMClient, profile Profile) (*Qualifier, error) {
	if llm == nil {
		return nil, errors.New("agents: llm client must not be nil")
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &Qualifier{llm: llm, profile: profile}, nil
}

// Qualify returns clamped sub-scores. An unreadable answer is an error so the
// caller keeps the previous score.
func (q *Qualifier) Qualify(ctx context.Context, in pipeline.QualifyInput) (domain.BANTScore, error) {
	raw, err := q.llm.Chat(ctx, domain.ChatRequest{
		Model: q.profile.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: qualifierPrompt(q.profile, in.Known, transcript(in.History, in.Message))},
			{Role: domain.RoleUser, Content: "Evalúa este lead con el marco BANT."},
		},
		Temperature: qualifyTemperature,
		JSON:        true,
	})
	if err != nil {
		return domain.BANTScore{}, fmt.Errorf("agents: qualify: %w", err)
	}

	var ans qualifierAnswer
	if err := decodeObject(raw, &ans); err != nil {
		return domain.BANTScore{}, fmt.Errorf("agents: qualify: decode answer: %w", err)
	}
	return domain.BANTScore{
		Budget:                 int(ans.Budget),
		Authority:              int(ans.Authority),
		Need:                   int(ans.Need),
		Timing:                 int(ans.Timing),
		BudgetJustification:    strings.TrimSpace(ans.BudgetJustification),
		AuthorityJustification: strings.TrimSpace(ans.AuthorityJustification),
		NeedJustification:      strings.TrimSpace(ans.NeedJustification),
		TimingJustification:    strings.TrimSpace(ans.TimingJustification),
	}.Clamped(), nil
}
