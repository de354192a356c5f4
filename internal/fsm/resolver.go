package fsm

import "sdr-agent/internal/domain"

const (
	DefaultCloseThreshold   = 60
	DefaultNurtureThreshold = 30
)

// Resolver derives the trigger for a turn. It is a pure function of its
// inputs and the configured score thresholds.
type Resolver struct {
	CloseThreshold   int
	NurtureThreshold int
}

// NewResolver returns a Resolver with the given thresholds, falling back to
// the defaults for non-positive values.
func NewResolver(closeThreshold, nurtureThreshold int) Resolver {
	if closeThreshold <= 0 {
		closeThreshold = DefaultCloseThreshold
	}
	if nurtureThreshold <= 0 {
		nurtureThreshold = DefaultNurtureThreshold
	}
	return Resolver{CloseThreshold: closeThreshold, NurtureThreshold: nurtureThreshold}
}

// Resolve returns at most one trigger. A not-interested intent wins over
// every state rule; otherwise the rule of the current state decides. The
// boolean is false when no rule matches.
func (r Resolver) Resolve(current domain.State, intent domain.Intent, score int, facts domain.Facts) (domain.Trigger, bool) {
	if intent == domain.IntentNotInterested {
		return domain.TriggerNotInterested, true
	}

	switch current {
	case domain.StateStart:
		return domain.TriggerNewMessage, true

	case domain.StateWelcome:
		switch intent {
		case domain.IntentInterest, domain.IntentServiceQuestion:
			return domain.TriggerShowsInterest, true
		case domain.IntentPainPoint:
			return domain.TriggerMentionsNeed, true
		}
		return domain.TriggerNone, false

	case domain.StateDataExtraction:
		if facts.HasMinimumData() {
			return domain.TriggerDataComplete, true
		}
		return domain.TriggerNeedMoreData, true

	case domain.StateQualification:
		switch {
		case intent == domain.IntentObjection:
			return domain.TriggerObjects, true
		case score >= r.closeThreshold():
			return domain.TriggerLeadHot, true
		case score >= r.nurtureThreshold():
			return domain.TriggerLeadWarm, true
		default:
			return domain.TriggerLeadCold, true
		}

	case domain.StateObjections:
		if intent == domain.IntentInterest || intent == domain.IntentConfirmation {
			return domain.TriggerObjectionResolved, true
		}
		return domain.TriggerObjectionUnresolved, true

	case domain.StateClosing:
		switch intent {
		case domain.IntentConfirmation:
			return domain.TriggerConfirms, true
		case domain.IntentObjection:
			return domain.TriggerObjects, true
		}
		return domain.TriggerNone, false

	case domain.StateScheduled:
		return domain.TriggerAppointmentConfirmed, true

	case domain.StateNurture, domain.StateCompleted, domain.StateDiscarded:
		return domain.TriggerNone, false
	}
	return domain.TriggerNone, false
}

func (r Resolver) closeThreshold() int {
	if r.CloseThreshold <= 0 {
		return DefaultCloseThreshold
	}
	return r.CloseThreshold
}

func (r Resolver) nurtureThreshold() int {
	if r.NurtureThreshold <= 0 {
		return DefaultNurtureThreshold
	}
	return r.NurtureThreshold
}
