package domain

import "fmt"

// State is a node of the sales conversation FSM.
type State string

const (
	StateStart          State = "START"
	StateWelcome        State = "WELCOME"
	StateDataExtraction State = "DATA_EXTRACTION"
	StateQualification  State = "QUALIFICATION"
	StateObjections     State = "OBJECTIONS"
	StateClosing        State = "CLOSING"
	StateScheduled      State = "SCHEDULED"
	StateNurture        State = "NURTURE"
	StateCompleted      State = "COMPLETED"
	StateDiscarded      State = "DISCARDED"
)

// States lists every valid state in FSM order.
var States = []State{
	StateStart,
	StateWelcome,
	StateDataExtraction,
	StateQualification,
	StateObjections,
	StateClosing,
	StateScheduled,
	StateNurture,
	StateCompleted,
	StateDiscarded,
}

func (s State) Valid() bool {
	switch s {
	case StateStart, StateWelcome, StateDataExtraction, StateQualification, StateObjections,
		StateClosing, StateScheduled, StateNurture, StateCompleted, StateDiscarded:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState validates a persisted state value.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", fmt.Errorf("domain: unknown state %q", raw)
	}
	return s, nil
}

// Trigger is a discrete event that may move the FSM.
type Trigger string

const (
	TriggerNone                 Trigger = ""
	TriggerNotInterested        Trigger = "user_not_interested"
	TriggerSpam                 Trigger = "user_spam"
	TriggerNewMessage           Trigger = "new_message"
	TriggerShowsInterest        Trigger = "user_shows_interest"
	TriggerMentionsNeed         Trigger = "user_mentions_need"
	TriggerDataComplete         Trigger = "data_complete"
	TriggerNeedMoreData         Trigger = "need_more_data"
	TriggerLeadHot              Trigger = "lead_hot"
	TriggerLeadWarm             Trigger = "lead_warm"
	TriggerLeadCold             Trigger = "lead_cold"
	TriggerObjects              Trigger = "user_objects"
	TriggerObjectionResolved    Trigger = "objection_resolved"
	TriggerObjectionUnresolved  Trigger = "objection_unresolved"
	TriggerConfirms             Trigger = "user_confirms"
	TriggerAsksMore             Trigger = "user_asks_more"
	TriggerNoSlotWorks          Trigger = "no_slot_works"
	TriggerAppointmentConfirmed Trigger = "appointment_confirmed"
	TriggerReengages            Trigger = "user_reengages"
)

// Triggers lists every defined trigger.
var Triggers = []Trigger{
	TriggerNotInterested,
	TriggerSpam,
	TriggerNewMessage,
	TriggerShowsInterest,
	TriggerMentionsNeed,
	TriggerDataComplete,
	TriggerNeedMoreData,
	TriggerLeadHot,
	TriggerLeadWarm,
	TriggerLeadCold,
	TriggerObjects,
	TriggerObjectionResolved,
	TriggerObjectionUnresolved,
	TriggerConfirms,
	TriggerAsksMore,
	TriggerNoSlotWorks,
	TriggerAppointmentConfirmed,
	TriggerReengages,
}

func (t Trigger) String() string { return string(t) }

// Intent is the classified purpose of an inbound message. Values are the
// labels the classifier prompt asks the model to emit.
type Intent string

const (
	IntentGreeting        Intent = "saludo"
	IntentInterest        Intent = "expresion_interes"
	IntentServiceQuestion Intent = "pregunta_servicio"
	IntentPriceQuestion   Intent = "pregunta_precio"
	IntentObjection       Intent = "objecion"
	IntentScheduleRequest Intent = "solicitud_agendar"
	IntentPersonalInfo    Intent = "info_personal"
	IntentPainPoint       Intent = "punto_dolor"
	IntentNotInterested   Intent = "no_interesado"
	IntentOffTopic        Intent = "fuera_tema"
	IntentConfirmation    Intent = "confirmacion"
	IntentRejection       Intent = "rechazo"
)

// Intents lists every intent the classifier may return.
var Intents = []Intent{
	IntentGreeting,
	IntentInterest,
	IntentServiceQuestion,
	IntentPriceQuestion,
	IntentObjection,
	IntentScheduleRequest,
	IntentPersonalInfo,
	IntentPainPoint,
	IntentNotInterested,
	IntentOffTopic,
	IntentConfirmation,
	IntentRejection,
}

// ParseIntent maps a classifier label to an Intent. Unknown labels are
// treated as off-topic.
func ParseIntent(raw string) Intent {
	in := Intent(raw)
	for _, known := range Intents {
		if in == known {
			return in
		}
	}
	return IntentOffTopic
}

func (i Intent) String() string { return string(i) }
