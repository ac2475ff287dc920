package study

import "testing"

func TestParseCondition(t *testing.T) {
	for _, v := range []struct {
		label string
		want  Condition
	}{
		{"0h", Condition{Hours: 0, Temperature: TempRoom}},
		{"fresh", Condition{Hours: 0, Temperature: TempRoom}},
		{"0h_4C", Condition{Hours: 0, Temperature: TempRoom}},
		{"2h", Condition{Hours: 2, Temperature: TempRoom}},
		{"8h_RT", Condition{Hours: 8, Temperature: TempRoom}},
		{"24h_4C", Condition{Hours: 24, Temperature: TempCold}},
		{"48h_4C", Condition{Hours: 48, Temperature: TempCold}},
		{"24h_cultured", Condition{Hours: 24, Temperature: TempRoom, Cultured: true}},
	} {
		got, err := ParseCondition(v.label)
		if err != nil {
			t.Fatalf("%s: %v", v.label, err)
		}
		if got != v.want {
			t.Errorf("%s: got %+v, want %+v", v.label, got, v.want)
		}
	}
}

func TestParseConditionErrors(t *testing.T) {
	for _, label := range []string{"", "8", "h", "-2h", "8h_37C", "8h_RT_extra", "24hRT"} {
		if _, err := ParseCondition(label); err == nil {
			t.Errorf("%q: expected error", label)
		}
	}
}

func TestConditionLabelRoundTrip(t *testing.T) {
	for _, label := range []string{"0h", "2h_RT", "8h_RT", "24h_4C", "24h_cultured", "48h_RT"} {
		c, err := ParseCondition(label)
		if err != nil {
			t.Fatal(err)
		}
		back, err := ParseCondition(c.Label())
		if err != nil {
			t.Fatalf("%s: relabel %q failed to parse: %v", label, c.Label(), err)
		}
		if back != c {
			t.Errorf("%s: round trip changed value: %+v vs %+v", label, c, back)
		}
	}
}

func TestConditionOrder(t *testing.T) {
	labels := []string{"0h", "2h", "8h_RT", "24h_RT", "24h_4C", "48h_RT", "48h_4C"}
	prev := -1
	for _, label := range labels {
		c, err := ParseCondition(label)
		if err != nil {
			t.Fatal(err)
		}
		if c.Order() <= prev {
			t.Errorf("%s: order %d not increasing after %d", label, c.Order(), prev)
		}
		prev = c.Order()
	}
}
