// Package fsm holds the sales conversation transition table and the rules
// that turn a classified message into a trigger.
package fsm

import "sdr-agent/internal/domain"

type edge struct {
	from    domain.State
	trigger domain.Trigger
}

// transitions maps (state, trigger) to the next state. Pairs that are not
// listed leave the conversation where it is.
var transitions = map[edge]domain.State{
	{domain.StateStart, domain.TriggerNewMessage}: domain.StateWelcome,

	{domain.StateWelcome, domain.TriggerShowsInterest}: domain.StateQualification,
	{domain.StateWelcome, domain.TriggerMentionsNeed}:  domain.StateDataExtraction,
	{domain.StateWelcome, domain.TriggerNotInterested}: domain.StateDiscarded,

	{domain.StateDataExtraction, domain.TriggerDataComplete}:  domain.StateQualification,
	{domain.StateDataExtraction, domain.TriggerNeedMoreData}:  domain.StateDataExtraction,
	{domain.StateDataExtraction, domain.TriggerNotInterested}: domain.StateDiscarded,

	{domain.StateQualification, domain.TriggerLeadHot}:      domain.StateClosing,
	{domain.StateQualification, domain.TriggerLeadWarm}:     domain.StateNurture,
	{domain.StateQualification, domain.TriggerLeadCold}:     domain.StateDiscarded,
	{domain.StateQualification, domain.TriggerObjects}:      domain.StateObjections,
	{domain.StateQualification, domain.TriggerNeedMoreData}: domain.StateDataExtraction,

	{domain.StateObjections, domain.TriggerObjectionResolved}:   domain.StateQualification,
	{domain.StateObjections, domain.TriggerObjectionUnresolved}: domain.StateNurture,
	{domain.StateObjections, domain.TriggerNotInterested}:       domain.StateDiscarded,

	{domain.StateClosing, domain.TriggerConfirms}:    domain.StateScheduled,
	{domain.StateClosing, domain.TriggerAsksMore}:    domain.StateNurture,
	{domain.StateClosing, domain.TriggerNoSlotWorks}: domain.StateClosing,
	{domain.StateClosing, domain.TriggerObjects}:     domain.StateObjections,

	{domain.StateScheduled, domain.TriggerAppointmentConfirmed}: domain.StateCompleted,

	{domain.StateNurture, domain.TriggerReengages}:     domain.StateQualification,
	{domain.StateNurture, domain.TriggerNotInterested}: domain.StateDiscarded,
}

// NextState looks up the destination of trigger from current. The boolean is
// false when the pair is not mapped.
func NextState(current domain.State, trigger domain.Trigger) (domain.State, bool) {
	next, ok := transitions[edge{current, trigger}]
	return next, ok
}

// ValidTriggers returns the triggers that have a destination from state, in
// the order of domain.Triggers.
func ValidTriggers(state domain.State) []domain.Trigger {
	var out []domain.Trigger
	for _, t := range domain.Triggers {
		if _, ok := transitions[edge{state, t}]; ok {
			out = append(out, t)
		}
	}
	return out
}

// IsTerminal reports whether the conversation has stopped progressing.
func IsTerminal(state domain.State) bool {
	return state == domain.StateCompleted || state == domain.StateDiscarded
}
