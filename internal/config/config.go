// Package config holds the tunable behaviour of the agent. Defaults ship
// embedded in the binary; a YAML document in Parameter Store can override
// any subset of them.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/integrations/paramstore"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Company struct {
	Name                string `yaml:"name"`
	Timezone            string `yaml:"timezone"`
	TimezoneLabel       string `yaml:"timezone_label"`
	ConsultationMinutes int    `yaml:"consultation_minutes"`
}

type LLM struct {
	Model      string `yaml:"model"`
	Moderation bool   `yaml:"moderation"`
}

type Scoring struct {
	CloseThreshold   int `yaml:"close_threshold"`
	NurtureThreshold int `yaml:"nurture_threshold"`
}

type Conversation struct {
	ClassifierWindow int    `yaml:"classifier_window"`
	ReplyWindow      int    `yaml:"reply_window"`
	HistoryLimit     int    `yaml:"history_limit"`
	SlotDaysAhead    int    `yaml:"slot_days_ahead"`
	FallbackReply    string `yaml:"fallback_reply"`
}

type Settings struct {
	Company          Company           `yaml:"company"`
	LLM              LLM               `yaml:"llm"`
	Scoring          Scoring           `yaml:"scoring"`
	Conversation     Conversation      `yaml:"conversation"`
	DefaultObjective string            `yaml:"default_objective"`
	Objectives       map[string]string `yaml:"objectives"`
}

// Default returns the embedded settings.
func Default() (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse defaults: %w", err)
	}
	return s, nil
}

// Parse decodes doc on top of the defaults. Keys absent from doc keep their
// default value; objectives are merged per state.
func Parse(doc []byte) (Settings, error) {
	s, err := Default()
	if err != nil {
		return Settings{}, err
	}
	if len(strings.TrimSpace(string(doc))) > 0 {
		if err := yaml.Unmarshal(doc, &s); err != nil {
			return Settings{}, fmt.Errorf("config: parse overrides: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads the override document stored at name. A missing parameter is
// not an error: the defaults apply.
func Load(ctx context.Context, getter paramstore.Getter, name string) (Settings, error) {
	if getter == nil || strings.TrimSpace(name) == "" {
		return Parse(nil)
	}
	raw, err := getter.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return Parse(nil)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: load %q: %w", name, err)
	}
	return Parse([]byte(raw))
}

func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Company.Name) == "" {
		errs = append(errs, errors.New("company.name is required"))
	}
	if _, err := time.LoadLocation(s.Company.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("company.timezone: %w", err))
	}
	if s.Company.ConsultationMinutes <= 0 {
		errs = append(errs, errors.New("company.consultation_minutes must be positive"))
	}
	if strings.TrimSpace(s.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	sc := s.Scoring
	if sc.NurtureThreshold < 0 || sc.CloseThreshold > 100 || sc.NurtureThreshold >= sc.CloseThreshold {
		errs = append(errs, fmt.Errorf("scoring: need 0 <= nurture (%d) < close (%d) <= 100", sc.NurtureThreshold, sc.CloseThreshold))
	}
	c := s.Conversation
	if c.ClassifierWindow <= 0 || c.ReplyWindow <= 0 || c.HistoryLimit <= 0 || c.SlotDaysAhead <= 0 {
		errs = append(errs, errors.New("conversation windows, history_limit and slot_days_ahead must be positive"))
	}
	if strings.TrimSpace(c.FallbackReply) == "" {
		errs = append(errs, errors.New("conversation.fallback_reply is required"))
	}
	for key := range s.Objectives {
		if _, err := domain.ParseState(key); err != nil {
			errs = append(errs, fmt.Errorf("objectives: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// Location resolves the company timezone.
func (s Settings) Location() (*time.Location, error) {
	return time.LoadLocation(s.Company.Timezone)
}

// StateObjectives returns the objectives keyed by state. Call after Validate.
func (s Settings) StateObjectives() map[domain.State]string {
	out := make(map[domain.State]string, len(s.Objectives))
	for key, obj := range s.Objectives {
		if st, err := domain.ParseState(key); err == nil {
			out[st] = obj
		}
	}
	return out
}
