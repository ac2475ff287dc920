package results

import (
	"math"
	"path/filepath"
	"testing"

	"gopkg.in/guregu/null.v3"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)

	inputs := map[string]string{"gs://bucket/p1/matrix.mtx.gz": "abc123"}
	id, err := s.BeginRun("cellqc", "pbmc", []string{"-config", "study.json"}, inputs, "cellqc v1")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if id < 1 {
		t.Fatalf("run id: got %d, want >= 1", id)
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != StatusRunning {
		t.Errorf("status before finish: got %q, want %q", runs[0].Status, StatusRunning)
	}
	if runs[0].FinishedAt.Valid {
		t.Error("finished_at must be null while running")
	}

	back, err := runs[0].RunInputs()
	if err != nil {
		t.Fatalf("RunInputs: %v", err)
	}
	if back["gs://bucket/p1/matrix.mtx.gz"] != "abc123" {
		t.Errorf("inputs round trip: %v", back)
	}

	if err := s.FinishRun(id, StatusOK); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	runs, _ = s.Runs()
	if runs[0].Status != StatusOK || !runs[0].FinishedAt.Valid {
		t.Errorf("after finish: status %q, finished valid %v", runs[0].Status, runs[0].FinishedAt.Valid)
	}

	if err := s.FinishRun(9999, StatusOK); err == nil {
		t.Error("expected error finishing an unknown run")
	}
}

func TestQCSummaries(t *testing.T) {
	s := testStore(t)
	id, err := s.BeginRun("cellqc", "pbmc", nil, nil, "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	rows := []QCSummary{
		{Sample: "p1_0h", Condition: "0h", NCells: 3500, NPass: 3100, NFailCounts: 120, NFailGenes: 90, NFailMito: 260, MedianCounts: 5200, MedianGenes: 1600, MedianPctMito: 4.2},
		{Sample: "p1_8h", Condition: "8h_RT", NCells: 3300, NPass: 2800, NFailCounts: 150, NFailGenes: 130, NFailMito: 330, MedianCounts: 4700, MedianGenes: 1450, MedianPctMito: 6.1},
	}
	if err := s.InsertQCSummaries(id, rows); err != nil {
		t.Fatalf("InsertQCSummaries: %v", err)
	}

	back, err := s.QCSummaries()
	if err != nil {
		t.Fatalf("QCSummaries: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d rows, want 2", len(back))
	}
	if back[0].Sample != "p1_0h" || back[0].RunID != id {
		t.Errorf("first row: %+v", back[0])
	}
	if back[1].MedianPctMito != 6.1 {
		t.Errorf("median mito: got %v, want 6.1", back[1].MedianPctMito)
	}
}

func TestDEGsWithNullPadj(t *testing.T) {
	s := testStore(t)
	id, err := s.BeginRun("timedeg", "pbmc", nil, nil, "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	rows := []DEG{
		{Contrast: "8h_RT_vs_0h", CellType: "T", Gene: "CIRBP", Log2FC: 1.8, PValue: 1e-12, PAdjusted: null.FloatFrom(4e-9), MeanCase: 2.4, MeanRef: 0.6, PctCase: 0.85, PctRef: 0.30},
		{Contrast: "8h_RT_vs_0h", CellType: "T", Gene: "RGS1", Log2FC: -1.1, PValue: 3e-6, PAdjusted: null.Float{}, MeanCase: 0.4, MeanRef: 1.2, PctCase: 0.25, PctRef: 0.61},
	}
	if err := s.InsertDEGs(id, rows); err != nil {
		t.Fatalf("InsertDEGs: %v", err)
	}

	back, err := s.DEGs("8h_RT_vs_0h")
	if err != nil {
		t.Fatalf("DEGs: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("got %d rows, want 2", len(back))
	}
	if back[0].Gene != "CIRBP" {
		t.Errorf("rows must order by ascending p: %+v", back)
	}
	if !back[0].PAdjusted.Valid || math.Abs(back[0].PAdjusted.Float64-4e-9) > 1e-15 {
		t.Errorf("p_adjusted round trip: %+v", back[0].PAdjusted)
	}
	if back[1].PAdjusted.Valid {
		t.Errorf("null p_adjusted must stay null: %+v", back[1].PAdjusted)
	}

	counts := []DEGCount{{Contrast: "8h_RT_vs_0h", CellType: "T", NUp: 1, NDown: 1, NTested: 1200}}
	if err := s.InsertDEGCounts(id, counts); err != nil {
		t.Fatalf("InsertDEGCounts: %v", err)
	}
	backCounts, err := s.DEGCounts()
	if err != nil {
		t.Fatalf("DEGCounts: %v", err)
	}
	if len(backCounts) != 1 || backCounts[0].NTested != 1200 {
		t.Errorf("counts round trip: %+v", backCounts)
	}
}

func TestKBETAndScores(t *testing.T) {
	s := testStore(t)
	id, err := s.BeginRun("kbetmix", "cll", nil, nil, "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	kbets := []KBET{
		{Grouping: "cell_type", GroupLabel: "B", NeighborhoodSize: 50, NNeighborhoods: 200, RejectionRate: 0.72, ExpectedRate: 0.05, MedianP: 0.0003},
	}
	if err := s.InsertKBETs(id, kbets); err != nil {
		t.Fatalf("InsertKBETs: %v", err)
	}
	backK, err := s.KBETs()
	if err != nil {
		t.Fatalf("KBETs: %v", err)
	}
	if len(backK) != 1 || backK[0].RejectionRate != 0.72 {
		t.Errorf("kbet round trip: %+v", backK)
	}

	scores := []SignatureScore{
		{Signature: "cold_shock", Sample: "p1_8h", Condition: "8h_RT", CellType: "T", NCells: 900, MeanScore: 0.31, MedianScore: 0.28},
		{Signature: "cold_shock", Sample: "p1_0h", Condition: "0h", CellType: "T", NCells: 1100, MeanScore: 0.02, MedianScore: 0.01},
	}
	if err := s.InsertSignatureScores(id, scores); err != nil {
		t.Fatalf("InsertSignatureScores: %v", err)
	}
	backS, err := s.SignatureScores("cold_shock")
	if err != nil {
		t.Fatalf("SignatureScores: %v", err)
	}
	if len(backS) != 2 || backS[0].Sample != "p1_0h" {
		t.Errorf("scores round trip: %+v", backS)
	}

	comps := []Composition{
		{Cluster: "3", CellType: "NK", Condition: "24h_RT", Sample: "p2_24h", NCells: 140, Fraction: 0.35},
	}
	if err := s.InsertCompositions(id, comps); err != nil {
		t.Fatalf("InsertCompositions: %v", err)
	}
	backC, err := s.Compositions()
	if err != nil {
		t.Fatalf("Compositions: %v", err)
	}
	if len(backC) != 1 || backC[0].Fraction != 0.35 {
		t.Errorf("composition round trip: %+v", backC)
	}

	demux := []DemuxSummary{
		{Sample: "pool_0h", Donor: "male1", NCells: 1500, Fraction: 0.48},
		{Sample: "pool_0h", Donor: "doublet", NCells: 60, Fraction: 0.02},
	}
	if err := s.InsertDemuxSummaries(id, demux); err != nil {
		t.Fatalf("InsertDemuxSummaries: %v", err)
	}
	backD, err := s.DemuxSummaries()
	if err != nil {
		t.Fatalf("DemuxSummaries: %v", err)
	}
	if len(backD) != 2 || backD[0].Donor != "doublet" {
		t.Errorf("demux round trip: %+v", backD)
	}
}
