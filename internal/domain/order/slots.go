package order

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleSlots are the bookable 20 minute slots, 09:00 through 16:40.
var ScheduleSlots = buildSlots(9*60, 16*60+40, 20)

func buildSlots(first, last, step int) []string {
	var out []string
	for m := first; m <= last; m += step {
		out = append(out, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return out
}

var slotLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

var meridiem = strings.NewReplacer("A.M.", "AM", "P.M.", "PM", "A.M", "AM", "P.M", "PM")

// NormalizeSlot parses common time spellings and returns the HH:MM slot when
// it is one of ScheduleSlots.
func NormalizeSlot(s string) (string, bool) {
	s = meridiem.Replace(strings.ToUpper(strings.TrimSpace(s)))
	if s == "" {
		return "", false
	}
	for _, layout := range slotLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		slot := t.Format("15:04")
		for _, known := range ScheduleSlots {
			if known == slot {
				return slot, true
			}
		}
		return "", false
	}
	return "", false
}
