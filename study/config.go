package study

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"

	"github.com/carbocation/pfx"
)

// Donor sexes. Pooled libraries are demultiplexed on sex-specific
// expression, so these are the only two values demultiplexing understands.
const (
	SexMale   = "male"
	SexFemale = "female"
)

// Donor is one individual whose cells went into a pooled library.
type Donor struct {
	ID  string `json:"id"`
	Sex string `json:"sex"` // SexMale or SexFemale
}

// Sample describes one sequencing library and the conditions it was
// processed under.
type Sample struct {
	ID        string  `json:"id"`
	Donors    []Donor `json:"donors"`
	Condition string  `json:"condition"`
	MatrixDir string  `json:"matrix_dir"`

	// Optional wall-clock provenance; when both are set the elapsed time is
	// checked against the condition label.
	CollectedAt string `json:"collected_at,omitempty"`
	PreparedAt  string `json:"prepared_at,omitempty"`
}

// Config is the JSON study design that every command takes via --config.
type Config struct {
	ConfigPath string `json:"-"`

	Study     string   `json:"study"`
	Cohort    string   `json:"cohort"` // "pbmc" or "cll"
	ResultsDB string   `json:"results_db"`
	OutputDir string   `json:"output_dir"`
	FigureDir string   `json:"figure_dir"`
	Samples   []Sample `json:"samples"`
}

// LoadConfig reads and validates a study config. Validation is strict: a bad
// condition label or duplicate sample ID should stop an analysis before it
// spends an hour loading matrices.
func LoadConfig(path string) (Config, error) {
	out := Config{ConfigPath: path}

	f, err := coldshock.Open(path)
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&out); err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
		}
		return out, pfx.Err(err)
	}

	out.ResultsDB = coldshock.ExpandHome(out.ResultsDB)
	out.OutputDir = coldshock.ExpandHome(out.OutputDir)
	out.FigureDir = coldshock.ExpandHome(out.FigureDir)
	for i := range out.Samples {
		out.Samples[i].MatrixDir = coldshock.ExpandHome(out.Samples[i].MatrixDir)
	}

	if err := out.Validate(); err != nil {
		return out, err
	}

	return out, nil
}

// Validate checks internal consistency without touching the filesystem.
func (c Config) Validate() error {
	if c.Study == "" {
		return fmt.Errorf("config %s: missing study name", c.ConfigPath)
	}
	if c.Cohort != "pbmc" && c.Cohort != "cll" {
		return fmt.Errorf("config %s: cohort must be pbmc or cll, got %q", c.ConfigPath, c.Cohort)
	}
	if len(c.Samples) == 0 {
		return fmt.Errorf("config %s: no samples", c.ConfigPath)
	}

	seen := make(map[string]struct{})
	for _, s := range c.Samples {
		if s.ID == "" {
			return fmt.Errorf("config %s: sample with empty id", c.ConfigPath)
		}
		if _, exists := seen[s.ID]; exists {
			return fmt.Errorf("config %s: duplicate sample id %q", c.ConfigPath, s.ID)
		}
		seen[s.ID] = struct{}{}

		cond, err := ParseCondition(s.Condition)
		if err != nil {
			return fmt.Errorf("config %s: sample %s: %v", c.ConfigPath, s.ID, err)
		}

		donorIDs := make(map[string]struct{})
		for _, d := range s.Donors {
			if d.ID == "" {
				return fmt.Errorf("config %s: sample %s: donor with empty id", c.ConfigPath, s.ID)
			}
			if _, exists := donorIDs[d.ID]; exists {
				return fmt.Errorf("config %s: sample %s: duplicate donor id %q", c.ConfigPath, s.ID, d.ID)
			}
			donorIDs[d.ID] = struct{}{}
			if d.Sex != SexMale && d.Sex != SexFemale {
				return fmt.Errorf("config %s: sample %s: donor %s: sex must be %s or %s, got %q", c.ConfigPath, s.ID, d.ID, SexMale, SexFemale, d.Sex)
			}
		}

		if s.CollectedAt != "" && s.PreparedAt != "" {
			derived, err := DeriveHours(s.CollectedAt, s.PreparedAt)
			if err != nil {
				return fmt.Errorf("config %s: sample %s: %v", c.ConfigPath, s.ID, err)
			}
			if diff := derived - float64(cond.Hours); diff > 1 || diff < -1 {
				return fmt.Errorf("config %s: sample %s: timestamps imply %.1fh at condition but label says %dh", c.ConfigPath, s.ID, derived, cond.Hours)
			}
		}
	}

	return nil
}

// DonorBySex returns the sample's donor of the given sex, if exactly one
// such donor exists.
func (s Sample) DonorBySex(sex string) (Donor, bool) {
	var found Donor
	n := 0
	for _, d := range s.Donors {
		if d.Sex == sex {
			found = d
			n++
		}
	}

	return found, n == 1
}

// Sample returns the sample with the given ID.
func (c Config) Sample(id string) (Sample, bool) {
	for _, s := range c.Samples {
		if s.ID == id {
			return s, true
		}
	}

	return Sample{}, false
}

// Conditions lists the distinct condition labels in storage-series order.
func (c Config) Conditions() []string {
	seen := make(map[string]Condition)
	for _, s := range c.Samples {
		cond, err := ParseCondition(s.Condition)
		if err != nil {
			continue
		}
		seen[cond.Label()] = cond
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		return seen[labels[i]].Order() < seen[labels[j]].Order()
	})

	return labels
}

// FreshSampleIDs returns the IDs of the 0h reference samples.
func (c Config) FreshSampleIDs() []string {
	out := make([]string, 0)
	for _, s := range c.Samples {
		cond, err := ParseCondition(s.Condition)
		if err == nil && cond.Hours == 0 {
			out = append(out, s.ID)
		}
	}

	return out
}
