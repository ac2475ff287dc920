package study

import (
	"fmt"
	"strconv"
	"strings"
)

// Temperature at which a sample was held between blood draw and library prep.
type Temperature string

const (
	TempRoom Temperature = "RT"
	TempCold Temperature = "4C"
)

// Condition is the pre-processing condition of one library: how many hours
// the cells sat, at which temperature, and whether they were placed in
// culture instead of plain storage.
type Condition struct {
	Hours       int
	Temperature Temperature
	Cultured    bool
}

// ParseCondition parses canonical condition labels: "0h" (or "fresh"),
// "2h", "8h_RT", "24h_4C", "24h_cultured". A bare hours label implies room
// temperature, matching how the tubes were actually labeled.
func ParseCondition(label string) (Condition, error) {
	cleaned := strings.TrimSpace(label)
	if cleaned == "" {
		return Condition{}, fmt.Errorf("empty condition label")
	}

	if strings.EqualFold(cleaned, "fresh") {
		return Condition{Hours: 0, Temperature: TempRoom}, nil
	}

	parts := strings.SplitN(cleaned, "_", 2)

	hoursPart := parts[0]
	if !strings.HasSuffix(hoursPart, "h") {
		return Condition{}, fmt.Errorf("condition %q: expected an hours component like 8h, got %q", label, hoursPart)
	}
	hours, err := strconv.Atoi(strings.TrimSuffix(hoursPart, "h"))
	if err != nil || hours < 0 {
		return Condition{}, fmt.Errorf("condition %q: cannot parse hours from %q", label, hoursPart)
	}

	out := Condition{Hours: hours, Temperature: TempRoom}

	if len(parts) == 2 {
		switch parts[1] {
		case string(TempRoom):
			out.Temperature = TempRoom
		case string(TempCold):
			out.Temperature = TempCold
		case "cultured":
			out.Cultured = true
		default:
			return Condition{}, fmt.Errorf("condition %q: unknown suffix %q", label, parts[1])
		}
	}

	// Zero hours of storage is fresh no matter the suffix, so variants like
	// 0h_4C collapse to one condition.
	if out.Hours == 0 {
		return Condition{Hours: 0, Temperature: TempRoom}, nil
	}

	return out, nil
}

// Label renders the canonical form. Zero hours is always "0h": the fresh
// sample never carries a temperature suffix.
func (c Condition) Label() string {
	if c.Hours == 0 {
		return "0h"
	}
	if c.Cultured {
		return fmt.Sprintf("%dh_cultured", c.Hours)
	}

	return fmt.Sprintf("%dh_%s", c.Hours, c.Temperature)
}

// Order gives a sortable value: primarily hours, then temperature (RT before
// 4C, matching how the storage series is displayed), then cultured last.
func (c Condition) Order() int {
	v := c.Hours * 10
	if c.Temperature == TempCold {
		v += 1
	}
	if c.Cultured {
		v += 2
	}

	return v
}
