package cronspec

import (
	"slices"
	"strconv"
	"strings"
)

type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindCustom  Kind = "custom"
)

// Descriptor is the structured form of a sync schedule.
//
// Canonical descriptors (the ones FromExpression returns for expressions
// ToExpression produced) have sorted, unique Days and a non-empty day set for
// Weekly. A Weekly descriptor with no days serializes like Daily.
type Descriptor struct {
	Kind   Kind
	Hour   int
	Minute int
	// Days holds weekdays for Weekly, 0 = Sunday.
	Days []int
	// DayOfMonth is 1-31 for Monthly.
	DayOfMonth int
	// Raw is the verbatim expression for Custom.
	Raw string
}

func Daily(hour, minute int) Descriptor {
	return Descriptor{Kind: KindDaily, Hour: hour, Minute: minute}
}

func Weekly(hour, minute int, days ...int) Descriptor {
	return Descriptor{Kind: KindWeekly, Hour: hour, Minute: minute, Days: canonicalDays(days)}
}

func Monthly(hour, minute, day int) Descriptor {
	return Descriptor{Kind: KindMonthly, Hour: hour, Minute: minute, DayOfMonth: day}
}

func Custom(raw string) Descriptor {
	return Descriptor{Kind: KindCustom, Raw: raw}
}

// ToExpression renders d as a 5-field cron expression. Custom descriptors are
// returned verbatim.
func ToExpression(d Descriptor) string {
	m, h := strconv.Itoa(d.Minute), strconv.Itoa(d.Hour)
	switch d.Kind {
	case KindDaily:
		return m + " " + h + " * * *"
	case KindWeekly:
		days := canonicalDays(d.Days)
		if len(days) == 0 {
			return m + " " + h + " * * *"
		}
		parts := make([]string, len(days))
		for i, v := range days {
			parts[i] = strconv.Itoa(v)
		}
		return m + " " + h + " * * " + strings.Join(parts, ",")
	case KindMonthly:
		return m + " " + h + " " + strconv.Itoa(d.DayOfMonth) + " * *"
	default:
		return d.Raw
	}
}

// FromExpression classifies expr. Shapes are tried in order: Daily, Weekly,
// Monthly; anything else, including expressions without exactly five fields or
// with non-numeric minute/hour, is Custom with the input preserved.
func FromExpression(expr string) Descriptor {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return Custom(expr)
	}
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]

	mi, okM := atoiRange(minute, 0, 59)
	hr, okH := atoiRange(hour, 0, 23)
	if !okM || !okH {
		return Custom(expr)
	}

	switch {
	case dom == "*" && month == "*" && dow == "*" && minute == "0":
		return Daily(hr, 0)
	case dom == "*" && month == "*":
		return Descriptor{Kind: KindWeekly, Hour: hr, Minute: mi, Days: parseDays(dow)}
	case month == "*" && dow == "*":
		day, err := strconv.Atoi(dom)
		if err != nil {
			day = 1
		}
		return Monthly(hr, mi, day)
	default:
		return Custom(expr)
	}
}

// Equal compares descriptors field by field, treating nil and empty Days alike.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Kind == o.Kind &&
		d.Hour == o.Hour &&
		d.Minute == o.Minute &&
		d.DayOfMonth == o.DayOfMonth &&
		d.Raw == o.Raw &&
		slices.Equal(canonicalDays(d.Days), canonicalDays(o.Days))
}

func (d Descriptor) String() string { return ToExpression(d) }

// parseDays reads a comma separated day-of-week list. Tokens that are not
// plain integers (ranges, names, steps) are dropped; "*" yields no days.
func parseDays(s string) []int {
	if s == "*" {
		return nil
	}
	var out []int
	for _, tok := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return canonicalDays(out)
}

func canonicalDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}

func atoiRange(s string, lo, hi int) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}
