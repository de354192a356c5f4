package scheduling

import (
	"strings"
	"unicode"
)

// ordinals maps reply words to an offered slot index.
var ordinals = map[string]int{
	"1": 0, "primera": 0, "primero": 0, "uno": 0, "first": 0, "one": 0,
	"2": 1, "segunda": 1, "segundo": 1, "dos": 1, "second": 1, "two": 1,
	"3": 2, "tercera": 2, "tercero": 2, "tres": 2, "third": 2, "three": 2,
}

// Select resolves a free-text reply against the slots offered in the previous
// turn. An explicit day and hour match wins; otherwise an ordinal word picks
// the slot by position. The boolean is false when nothing matches.
func Select(message string, offered []string) (string, int, bool) {
	if len(offered) == 0 {
		return "", -1, false
	}
	msg := strings.ToLower(message)
	words := tokenize(msg)

	for i, slot := range offered {
		day, hour, ok := slotDayHour(slot)
		if !ok {
			continue
		}
		if containsToken(words, day) && containsHour(words, hour) {
			return slot, i, true
		}
	}

	best := -1
	for _, w := range words {
		idx, ok := ordinals[w]
		if !ok {
			continue
		}
		if best == -1 || idx < best {
			best = idx
		}
	}
	if best >= 0 && best < len(offered) {
		return offered[best], best, true
	}
	return "", -1, false
}

// SplitSlot splits a "Lunes 24 - 10:00 AM" label into its date and time
// parts. Labels without a separator are returned whole as the date.
func SplitSlot(slot string) (date, timeOfDay string) {
	date, timeOfDay, found := strings.Cut(slot, " - ")
	if !found {
		return strings.TrimSpace(slot), ""
	}
	return strings.TrimSpace(date), strings.TrimSpace(timeOfDay)
}

// slotDayHour extracts the day-of-month and hour tokens of a slot label.
func slotDayHour(slot string) (day, hour string, ok bool) {
	date, timeOfDay := SplitSlot(strings.ToLower(slot))
	dateParts := strings.Fields(date)
	if len(dateParts) < 2 || timeOfDay == "" {
		return "", "", false
	}
	hour, _, _ = strings.Cut(timeOfDay, ":")
	return dateParts[1], strings.TrimSpace(hour), hour != ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':'
	})
}

func containsToken(words []string, want string) bool {
	for _, w := range words {
		if w == want {
			return true
		}
	}
	return false
}

// containsHour accepts "10", "10:00", "10am" and "10pm" for hour "10".
func containsHour(words []string, hour string) bool {
	for _, w := range words {
		h, _, _ := strings.Cut(w, ":")
		h = strings.TrimSuffix(strings.TrimSuffix(h, "am"), "pm")
		if h == hour {
			return true
		}
	}
	return false
}
