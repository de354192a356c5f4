package agents

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"sdr-agent/internal/domain"
)

// factsFromMap converts a loosely typed model payload into Facts. Nulls,
// empty strings and values of the wrong shape are dropped; unknown keys with
// scalar values land in Extra.
func factsFromMap(m map[string]any) domain.Facts {
	var f domain.Facts
	for key, v := range m {
		switch key {
		case domain.FactName:
			f.Name = asString(v)
		case domain.FactOrganization:
			f.Organization = asString(v)
		case domain.FactRole:
			f.Role = asString(v)
		case domain.FactCity:
			f.City = asString(v)
		case domain.FactContact:
			f.Contact = asString(v)
		case domain.FactPainPoints:
			f.PainPoints = asList(v)
		case domain.FactBudgetMin:
			f.BudgetMin = asAmount(v)
		case domain.FactBudgetMax:
			f.BudgetMax = asAmount(v)
		case domain.FactUrgency:
			if u := domain.Urgency(strings.ToLower(asString(v))); u.Valid() {
				f.Urgency = u
			}
		case domain.FactNotes:
			f.Notes = asString(v)
		default:
			if s := asString(v); s != "" {
				if f.Extra == nil {
					f.Extra = make(map[string]string)
				}
				f.Extra[key] = s
			}
		}
	}
	return f
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || s == "..." {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return ""
}

func asList(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := asString(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

// asAmount accepts a JSON number or an amount string such as "15.000.000",
// "$2.500.000,50" or "15,000,000.00". Decimals are truncated. Strings with
// words left in them ("1.5 millones") are rejected.
func asAmount(v any) *int64 {
	var n int64
	switch t := v.(type) {
	case float64:
		if t < 0 || t >= math.MaxInt64 {
			return nil
		}
		n = int64(t)
	case string:
		parsed, ok := parseAmount(t)
		if !ok {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

func parseAmount(raw string) (int64, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "COP"), "COP"))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, false
		}
	}
	// a last separator followed by one or two digits marks the decimals
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		if tail := len(s) - i - 1; tail == 1 || tail == 2 {
			s = s[:i]
		}
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(s)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// flexInt decodes a JSON number or numeric string; anything else is zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = flexInt(math.Round(t))
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(math.Round(n))
	default:
		*f = 0
	}
	return nil
}

// flexFloat decodes a JSON number or numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = flexFloat(t)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			n = 0
		}
		*f = flexFloat(n)
	default:
		*f = 0
	}
	return nil
}
