package cronspec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// wireDescriptor is the REST shape of a Descriptor.
type wireDescriptor struct {
	Frequency  Kind   `json:"frequency"`
	Time       string `json:"time,omitempty"` // HH:MM
	Days       []int  `json:"days,omitempty"`
	DayOfMonth int    `json:"day_of_month,omitempty"`
	Cron       string `json:"cron,omitempty"`
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

func (d Descriptor) MarshalJSON() ([]byte, error) {
	w := wireDescriptor{Frequency: d.Kind}
	switch d.Kind {
	case KindCustom:
		w.Cron = d.Raw
	default:
		w.Time = fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
		w.Days = canonicalDays(d.Days)
		if d.Kind == KindMonthly {
			w.DayOfMonth = d.DayOfMonth
		}
	}
	return json.Marshal(w)
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Frequency {
	case KindCustom:
		*d = Custom(w.Cron)
		return nil
	case KindDaily, KindWeekly, KindMonthly:
	default:
		return fmt.Errorf("unknown frequency %q", w.Frequency)
	}

	h, m, err := parseClock(w.Time)
	if err != nil {
		return err
	}
	switch w.Frequency {
	case KindDaily:
		*d = Daily(h, m)
	case KindWeekly:
		for _, v := range w.Days {
			if v < 0 || v > 6 {
				return fmt.Errorf("invalid weekday %d", v)
			}
		}
		*d = Weekly(h, m, w.Days...)
	case KindMonthly:
		if w.DayOfMonth < 1 || w.DayOfMonth > 31 {
			return fmt.Errorf("invalid day_of_month %d", w.DayOfMonth)
		}
		*d = Monthly(h, m, w.DayOfMonth)
	}
	return nil
}

func parseClock(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	g := reClock.FindStringSubmatch(s)
	if len(g) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, _ := strconv.Atoi(g[1])
	m, _ := strconv.Atoi(g[2])
	if h > 23 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return h, m, nil
}
