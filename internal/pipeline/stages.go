package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/fsm"
	"sdr-agent/internal/scheduling"
)

func (e *Engine) classify(ctx context.Context, r *run) error {
	c, err := e.deps.Classifier.Classify(ctx, ClassifyInput{
		State:   r.conv.State,
		Facts:   r.conv.Facts.Clone(),
		Recent:  r.conv.RecentHistory(e.classifierWindow),
		Message: r.message,
	})
	if err != nil {
		r.degrade(StageClassify)
		c = domain.Classification{}
	}
	c.Intent = domain.ParseIntent(string(c.Intent))
	if !c.Extractable {
		c.Detected = domain.Facts{}
	}
	r.classification = c
	r.conv.LastIntent = c.Intent
	return nil
}

func (e *Engine) extract(ctx context.Context, r *run) error {
	found, err := e.deps.Extractor.Extract(ctx, ExtractInput{
		History: r.conv.History,
		Message: r.message,
		Known:   r.conv.Facts.Clone(),
	})
	if err != nil {
		r.degrade(StageExtract)
		found = domain.Facts{}
	}

	// Facts the classifier spotted on the way are applied first so the
	// extractor's answer wins on conflicts.
	update := r.classification.Detected.Clone()
	update.Merge(found)

	delta := r.conv.Facts.Merge(update)
	if delta.IsEmpty() {
		return nil
	}
	if err := e.deps.Store.SaveFacts(ctx, r.conv.ID, delta); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	return nil
}

func (e *Engine) qualify(ctx context.Context, r *run) error {
	score, err := e.deps.Qualifier.Qualify(ctx, QualifyInput{
		History: r.conv.History,
		Message: r.message,
		Known:   r.conv.Facts.Clone(),
	})
	if err != nil {
		// Keep the last known score rather than zeroing a qualified lead.
		r.degrade(StageQualify)
		return nil
	}

	score = score.Clamped()
	total := score.Total()
	if err := e.deps.Store.SaveScore(ctx, r.conv.ID, total, score); err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	r.conv.Score = total
	r.conv.Breakdown = score
	return nil
}

func (e *Engine) transition(ctx context.Context, r *run) error {
	from := r.conv.State
	trigger, ok := e.resolver.Resolve(from, r.conv.LastIntent, r.conv.Score, r.conv.Facts)
	r.conv.LastTrigger = trigger
	if !ok {
		return nil
	}

	next, ok := fsm.NextState(from, trigger)
	if !ok || next == from {
		return nil
	}
	if err := e.deps.Store.SaveState(ctx, r.conv.ID, next); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	r.conv.State = next
	e.observer.Transitioned(from, next, trigger)
	return nil
}

func (e *Engine) respond(ctx context.Context, r *run) error {
	switch r.conv.State {
	case domain.StateClosing:
		slots, err := e.deps.Slots.AvailableSlots(ctx, e.slotDaysAhead)
		if err != nil {
			return fmt.Errorf("available slots: %w", err)
		}
		if len(slots) > maxOfferedSlots {
			slots = slots[:maxOfferedSlots]
		}
		r.conv.PendingOffer = slots
		r.reply = e.deps.Responder.Closing(r.conv.Facts.Name, slots)
		return nil

	case domain.StateScheduled:
		if slot, _, ok := scheduling.Select(r.message, r.offered); ok {
			date, timeOfDay := scheduling.SplitSlot(slot)
			r.reply = e.deps.Responder.Confirmation(r.conv.Facts.Name, date, timeOfDay)
			return nil
		}
	}

	reply, err := e.deps.Responder.Reply(ctx, ReplyInput{
		State:     r.conv.State,
		Objective: e.objective(r.conv.State),
		Facts:     r.conv.Facts.Clone(),
		Recent:    r.conv.RecentHistory(e.replyWindow),
		Message:   r.message,
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return errors.New("generate reply: empty reply")
	}
	r.reply = reply
	return nil
}
