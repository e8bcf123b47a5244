package cronspec

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestToExpression(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{name: "daily", d: Daily(2, 0), want: "0 2 * * *"},
		{name: "weekly", d: Weekly(9, 0, 1, 3, 5), want: "0 9 * * 1,3,5"},
		{name: "weekly unsorted dup", d: Descriptor{Kind: KindWeekly, Hour: 9, Days: []int{5, 1, 5, 3}}, want: "0 9 * * 1,3,5"},
		{name: "weekly empty", d: Weekly(9, 0), want: "0 9 * * *"},
		{name: "monthly", d: Monthly(6, 30, 15), want: "30 6 15 * *"},
		{name: "custom", d: Custom("*/15  * * * *"), want: "*/15  * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ToExpression(tt.d); got != tt.want {
				t.Fatalf("ToExpression = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromExpression(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		want Descriptor
	}{
		{expr: "0 2 * * *", want: Daily(2, 0)},
		{expr: "0 9 * * 1,3,5", want: Weekly(9, 0, 1, 3, 5)},
		{expr: "15 9 * * 2", want: Weekly(9, 15, 2)},
		{expr: "0 9 * * 1,MON,5", want: Weekly(9, 0, 1, 5)},
		{expr: "30 9 * * *", want: Descriptor{Kind: KindWeekly, Hour: 9, Minute: 30}},
		{expr: "0 6 15 * *", want: Monthly(6, 0, 15)},
		{expr: "0 6 L * *", want: Monthly(6, 0, 1)},
		{expr: "0 6 1 1 *", want: Custom("0 6 1 1 *")},
		{expr: "0 2 * *", want: Custom("0 2 * *")},
		{expr: "0 2 * * * *", want: Custom("0 2 * * * *")},
		{expr: "*/5 * * * *", want: Custom("*/5 * * * *")},
		{expr: "0 25 * * *", want: Custom("0 25 * * *")},
		{expr: "@daily", want: Custom("@daily")},
		{expr: "", want: Custom("")},
		{expr: "hello world", want: Custom("hello world")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			got := FromExpression(tt.expr)
			if !got.Equal(tt.want) {
				t.Fatalf("FromExpression(%q) = %+v, want %+v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	var descs []Descriptor
	for h := 0; h < 24; h++ {
		descs = append(descs, Daily(h, 0))
		descs = append(descs, Weekly(h, 0, h%7), Weekly(h, 45, 0, 6))
		descs = append(descs, Monthly(h, 0, 1+h), Monthly(h, 59, 28))
	}
	descs = append(descs, Custom("*/10 * * * *"), Custom("0 0 1 1 *"), Custom("garbage"))

	for _, d := range descs {
		expr := ToExpression(d)
		if got := FromExpression(expr); !got.Equal(d) {
			t.Fatalf("round trip %+v via %q = %+v", d, expr, got)
		}
		if again := ToExpression(FromExpression(expr)); again != expr {
			t.Fatalf("expression round trip %q = %q", expr, again)
		}
	}
}

func TestEmptyWeeklyCanonicalisesToDaily(t *testing.T) {
	t.Parallel()
	got := FromExpression(ToExpression(Weekly(7, 0)))
	if got.Kind != KindDaily || got.Hour != 7 {
		t.Fatalf("got %+v, want daily 07:00", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := []string{"0 2 * * *", "*/15 * * * *", "0 9 * * 1-5", "@hourly", "@every 6h"}
	for _, s := range ok {
		if err := Validate(s); err != nil {
			t.Fatalf("Validate(%q) = %v", s, err)
		}
	}
	bad := []string{"", "   ", "0 2 * *", "61 2 * * *", "not a cron"}
	for _, s := range bad {
		err := Validate(s)
		if err == nil {
			t.Fatalf("Validate(%q) = nil, want error", s)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("Validate(%q) error = %v (%T)", s, err, err)
		}
	}
}

func TestNextN(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 3, 2, 1, 59, 0, 0, time.UTC) // Monday
	got, err := NextN("0 2 * * *", from, 3)
	if err != nil {
		t.Fatalf("NextN error: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("next[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Strictly after: an instant exactly on the boundary moves to the next day.
	on := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	got, _ = NextN("0 2 * * *", on, 1)
	if !got[0].Equal(on.Add(24 * time.Hour)) {
		t.Fatalf("next after boundary = %v", got[0])
	}
}

func TestDescriptorJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Weekly(9, 5, 5, 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"frequency":"weekly","time":"09:05","days":[1,5]}` {
		t.Fatalf("json = %s", b)
	}

	var d Descriptor
	if err := json.Unmarshal([]byte(`{"frequency":"monthly","time":"06:30","day_of_month":15}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Equal(Monthly(6, 30, 15)) {
		t.Fatalf("decoded = %+v", d)
	}
	if err := json.Unmarshal([]byte(`{"frequency":"daily","time":"24:00"}`), &d); err == nil {
		t.Fatal("expected error for 24:00")
	}
	if err := json.Unmarshal([]byte(`{"frequency":"hourly"}`), &d); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}

func TestDescriptorJSONWeekdayRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		body string
		ok   bool
	}{
		{`{"frequency":"weekly","time":"08:00","days":[0,6]}`, true},
		{`{"frequency":"weekly","time":"08:00","days":[7]}`, false},
		{`{"frequency":"weekly","time":"08:00","days":[1,-1]}`, false},
	}
	for _, tc := range cases {
		var d Descriptor
		err := json.Unmarshal([]byte(tc.body), &d)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.body, err)
		}
		if !tc.ok {
			continue
		}
		if _, err := Parse(ToExpression(d)); err != nil {
			t.Fatalf("%s: accepted descriptor does not parse: %v", tc.body, err)
		}
	}
}
