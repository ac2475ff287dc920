package signature

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadSetsGMT(t *testing.T) {
	content := "coldshock\tcold stress program\tRBM3\tCIRBP\tJUN\n" +
		"# comment lines are skipped\n" +
		"heatshock\t\tHSPA1A\tHSPA1B\n"

	parser, err := New("GMT")
	if err != nil {
		t.Fatal(err)
	}

	sets, err := ReadSets(strings.NewReader(content), parser, "unused")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}

	if sets[0].Name != "coldshock" || sets[0].Description != "cold stress program" {
		t.Errorf("first set = %q (%q)", sets[0].Name, sets[0].Description)
	}
	if got := strings.Join(sets[0].Genes, ","); got != "RBM3,CIRBP,JUN" {
		t.Errorf("first set genes = %s", got)
	}
	if sets[1].Name != "heatshock" || len(sets[1].Genes) != 2 {
		t.Errorf("second set = %q with %d genes", sets[1].Name, len(sets[1].Genes))
	}
}

func TestReadSetsList(t *testing.T) {
	content := "RBM3\nCIRBP\n# cold shock core\nJUN\nRBM3\n"

	parser, err := New("LIST")
	if err != nil {
		t.Fatal(err)
	}

	sets, err := ReadSets(strings.NewReader(content), parser, "mylist")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 1 || sets[0].Name != "mylist" {
		t.Fatalf("sets = %+v, want one set named mylist", sets)
	}

	// The repeated RBM3 collapses.
	if got := strings.Join(sets[0].Genes, ","); got != "RBM3,CIRBP,JUN" {
		t.Errorf("genes = %s", got)
	}
}

func TestReadSetsTSV(t *testing.T) {
	content := "cold\tRBM3\ncold\tCIRBP\nheat\tHSPA1A\ncold\tRBM3\n"

	parser, err := New("TSV")
	if err != nil {
		t.Fatal(err)
	}

	sets, err := ReadSets(strings.NewReader(content), parser, "unused")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}
	if sets[0].Name != "cold" || len(sets[0].Genes) != 2 {
		t.Errorf("first set = %q with %d genes", sets[0].Name, len(sets[0].Genes))
	}
	if sets[1].Name != "heat" || len(sets[1].Genes) != 1 {
		t.Errorf("second set = %q with %d genes", sets[1].Name, len(sets[1].Genes))
	}
}

func TestReadSetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stressgenes.txt")
	if err := os.WriteFile(path, []byte("FOS\nJUN\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sets, err := ReadSetsFile(path, "LIST")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 1 || sets[0].Name != "stressgenes" || len(sets[0].Genes) != 2 {
		t.Fatalf("sets = %+v", sets)
	}
}

func TestNewRejectsUnknownLayout(t *testing.T) {
	if _, err := New("NOPE"); err == nil {
		t.Error("expected an error for an unknown layout name")
	}
}

func TestParseRowErrors(t *testing.T) {
	gmt := Layouts["GMT"]
	if _, err := GMTParseRow(&gmt, []string{"name", "desc"}); err == nil {
		t.Error("GMT row without genes should fail")
	}

	tsv := Layouts["TSV"]
	if _, err := TSVParseRow(&tsv, []string{"lonely"}); err == nil {
		t.Error("short TSV row should fail")
	}
	if _, err := TSVParseRow(&tsv, []string{"cold", " "}); err == nil {
		t.Error("blank gene field should fail")
	}
}

func TestBuiltins(t *testing.T) {
	cold, ok := Builtins["coldshock"]
	if !ok {
		t.Fatal("coldshock builtin is missing")
	}
	found := false
	for _, g := range cold.Genes {
		if g == "RBM3" {
			found = true
		}
	}
	if !found {
		t.Error("coldshock builtin lacks RBM3")
	}

	if _, ok := Builtins["dissociation"]; !ok {
		t.Error("dissociation builtin is missing")
	}
	if names := BuiltinNames(); !strings.Contains(names, "coldshock") {
		t.Errorf("BuiltinNames() = %q", names)
	}
}

func TestSetNameFromPath(t *testing.T) {
	for path, want := range map[string]string{
		"path/to/coldshock.txt.gz": "coldshock",
		"sets.gmt":                 "sets",
		"plain":                    "plain",
	} {
		if got := setNameFromPath(path); got != want {
			t.Errorf("setNameFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
