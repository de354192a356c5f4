package domain

import (
	"sort"
	"strings"
)

// Urgency is the lead's buying urgency tier.
type Urgency string

const (
	UrgencyLow    Urgency = "baja"
	UrgencyMedium Urgency = "media"
	UrgencyHigh   Urgency = "alta"
	UrgencyUrgent Urgency = "urgente"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// Fact keys as they appear in extraction payloads and persisted records.
const (
	FactName         = "nombre"
	FactOrganization = "empresa"
	FactRole         = "cargo"
	FactCity         = "ciudad"
	FactContact      = "email"
	FactPainPoints   = "puntos_dolor"
	FactBudgetMin    = "presupuesto_min"
	FactBudgetMax    = "presupuesto_max"
	FactUrgency      = "urgencia"
	FactNotes        = "contexto_adicional"
)

// Facts is what is known about the lead. The zero value of every field means
// "unknown". Extra keeps keys outside the known vocabulary.
type Facts struct {
	Name         string            `json:"nombre,omitempty"`
	Organization string            `json:"empresa,omitempty"`
	Role         string            `json:"cargo,omitempty"`
	City         string            `json:"ciudad,omitempty"`
	Contact      string            `json:"email,omitempty"`
	PainPoints   []string          `json:"puntos_dolor,omitempty"`
	BudgetMin    *int64            `json:"presupuesto_min,omitempty"`
	BudgetMax    *int64            `json:"presupuesto_max,omitempty"`
	Urgency      Urgency           `json:"urgencia,omitempty"`
	Notes        string            `json:"contexto_adicional,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// HasIdentity reports whether both name and organization are known.
func (f Facts) HasIdentity() bool {
	return strings.TrimSpace(f.Name) != "" && strings.TrimSpace(f.Organization) != ""
}

// HasMinimumData reports whether enough is known to qualify the lead:
// name, organization and either a pain point or a minimum budget.
func (f Facts) HasMinimumData() bool {
	if !f.HasIdentity() {
		return false
	}
	return len(f.PainPoints) > 0 || (f.BudgetMin != nil && *f.BudgetMin > 0)
}

// IsEmpty reports whether no fact carries a value.
func (f Facts) IsEmpty() bool {
	return len(f.Keys()) == 0
}

// Keys returns the keys that carry a non-empty value, known vocabulary first
// and extension keys sorted after it.
func (f Facts) Keys() []string {
	var keys []string
	add := func(key string, present bool) {
		if present {
			keys = append(keys, key)
		}
	}
	add(FactName, nonBlank(f.Name))
	add(FactOrganization, nonBlank(f.Organization))
	add(FactRole, nonBlank(f.Role))
	add(FactCity, nonBlank(f.City))
	add(FactContact, nonBlank(f.Contact))
	add(FactPainPoints, len(cleanList(f.PainPoints)) > 0)
	add(FactBudgetMin, f.BudgetMin != nil)
	add(FactBudgetMax, f.BudgetMax != nil)
	add(FactUrgency, f.Urgency.Valid())
	add(FactNotes, nonBlank(f.Notes))

	extra := make([]string, 0, len(f.Extra))
	for k, v := range f.Extra {
		if nonBlank(k) && nonBlank(v) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// Merge applies update over f. A field is overwritten only when the update
// carries a non-empty value for it; empty values never erase what is known.
// The returned delta holds exactly the fields that were applied.
func (f *Facts) Merge(update Facts) Facts {
	var delta Facts
	if v := strings.TrimSpace(update.Name); v != "" {
		f.Name, delta.Name = v, v
	}
	if v := strings.TrimSpace(update.Organization); v != "" {
		f.Organization, delta.Organization = v, v
	}
	if v := strings.TrimSpace(update.Role); v != "" {
		f.Role, delta.Role = v, v
	}
	if v := strings.TrimSpace(update.City); v != "" {
		f.City, delta.City = v, v
	}
	if v := strings.TrimSpace(update.Contact); v != "" {
		f.Contact, delta.Contact = v, v
	}
	if v := cleanList(update.PainPoints); len(v) > 0 {
		f.PainPoints = v
		delta.PainPoints = append([]string(nil), v...)
	}
	if update.BudgetMin != nil {
		v := *update.BudgetMin
		f.BudgetMin, delta.BudgetMin = &v, &v
	}
	if update.BudgetMax != nil {
		v := *update.BudgetMax
		f.BudgetMax, delta.BudgetMax = &v, &v
	}
	if update.Urgency.Valid() {
		f.Urgency, delta.Urgency = update.Urgency, update.Urgency
	}
	if v := strings.TrimSpace(update.Notes); v != "" {
		f.Notes, delta.Notes = v, v
	}
	for k, v := range update.Extra {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		if delta.Extra == nil {
			delta.Extra = make(map[string]string)
		}
		f.Extra[k], delta.Extra[k] = v, v
	}
	return delta
}

// Clone returns a deep copy of f.
func (f Facts) Clone() Facts {
	out := f
	if f.PainPoints != nil {
		out.PainPoints = append(make([]string, 0, len(f.PainPoints)), f.PainPoints...)
	}
	if f.BudgetMin != nil {
		v := *f.BudgetMin
		out.BudgetMin = &v
	}
	if f.BudgetMax != nil {
		v := *f.BudgetMax
		out.BudgetMax = &v
	}
	if f.Extra != nil {
		out.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func nonBlank(s string) bool { return strings.TrimSpace(s) != "" }

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
