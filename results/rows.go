package results

import (
	"gopkg.in/guregu/null.v3"

	"github.com/carbocation/pfx"
)

// QCSummary aggregates quality control over one sample.
type QCSummary struct {
	RunID         int64   `db:"run_id"`
	Sample        string  `db:"sample"`
	Condition     string  `db:"condition"`
	NCells        int     `db:"n_cells"`
	NPass         int     `db:"n_pass"`
	NFailCounts   int     `db:"n_fail_counts"`
	NFailGenes    int     `db:"n_fail_genes"`
	NFailMito     int     `db:"n_fail_mito"`
	MedianCounts  float64 `db:"median_counts"`
	MedianGenes   float64 `db:"median_genes"`
	MedianPctMito float64 `db:"median_pct_mito"`
}

func (s *Store) InsertQCSummaries(runID int64, rows []QCSummary) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO qc_summary
		(run_id, sample, condition, n_cells, n_pass, n_fail_counts, n_fail_genes, n_fail_mito, median_counts, median_genes, median_pct_mito)
		VALUES (:run_id, :sample, :condition, :n_cells, :n_pass, :n_fail_counts, :n_fail_genes, :n_fail_mito, :median_counts, :median_genes, :median_pct_mito)`, all)
}

func (s *Store) QCSummaries() ([]QCSummary, error) {
	var out []QCSummary
	if err := s.db.Select(&out, `SELECT * FROM qc_summary ORDER BY sample`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// DemuxSummary counts barcodes assigned to one donor within one sample.
// Unassignable and doublet barcodes appear under their own donor labels.
type DemuxSummary struct {
	RunID    int64   `db:"run_id"`
	Sample   string  `db:"sample"`
	Donor    string  `db:"donor"`
	NCells   int     `db:"n_cells"`
	Fraction float64 `db:"fraction"`
}

func (s *Store) InsertDemuxSummaries(runID int64, rows []DemuxSummary) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO demux_summary (run_id, sample, donor, n_cells, fraction)
		VALUES (:run_id, :sample, :donor, :n_cells, :fraction)`, all)
}

func (s *Store) DemuxSummaries() ([]DemuxSummary, error) {
	var out []DemuxSummary
	if err := s.db.Select(&out, `SELECT * FROM demux_summary ORDER BY sample, donor`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// DEG is one differentially expressed gene in one contrast. PAdjusted is
// null when the gene was excluded from multiple testing correction.
type DEG struct {
	RunID     int64      `db:"run_id"`
	Contrast  string     `db:"contrast"`
	CellType  string     `db:"cell_type"`
	Gene      string     `db:"gene"`
	Log2FC    float64    `db:"log2fc"`
	PValue    float64    `db:"p_value"`
	PAdjusted null.Float `db:"p_adjusted"`
	MeanCase  float64    `db:"mean_case"`
	MeanRef   float64    `db:"mean_ref"`
	PctCase   float64    `db:"pct_case"`
	PctRef    float64    `db:"pct_ref"`
}

func (s *Store) InsertDEGs(runID int64, rows []DEG) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO deg
		(run_id, contrast, cell_type, gene, log2fc, p_value, p_adjusted, mean_case, mean_ref, pct_case, pct_ref)
		VALUES (:run_id, :contrast, :cell_type, :gene, :log2fc, :p_value, :p_adjusted, :mean_case, :mean_ref, :pct_case, :pct_ref)`, all)
}

// DEGs returns the stored genes for one contrast, all cell types, ordered by
// ascending p value.
func (s *Store) DEGs(contrast string) ([]DEG, error) {
	var out []DEG
	if err := s.db.Select(&out, `SELECT * FROM deg WHERE contrast = ? ORDER BY cell_type, p_value`, contrast); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// DEGCount tallies significant genes per contrast and cell type.
type DEGCount struct {
	RunID    int64  `db:"run_id"`
	Contrast string `db:"contrast"`
	CellType string `db:"cell_type"`
	NUp      int    `db:"n_up"`
	NDown    int    `db:"n_down"`
	NTested  int    `db:"n_tested"`
}

func (s *Store) InsertDEGCounts(runID int64, rows []DEGCount) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO deg_counts (run_id, contrast, cell_type, n_up, n_down, n_tested)
		VALUES (:run_id, :contrast, :cell_type, :n_up, :n_down, :n_tested)`, all)
}

func (s *Store) DEGCounts() ([]DEGCount, error) {
	var out []DEGCount
	if err := s.db.Select(&out, `SELECT * FROM deg_counts ORDER BY contrast, cell_type`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// KBET is the batch mixing verdict for one group of cells.
type KBET struct {
	RunID            int64   `db:"run_id"`
	Grouping         string  `db:"grouping"`
	GroupLabel       string  `db:"group_label"`
	NeighborhoodSize int     `db:"neighborhood_size"`
	NNeighborhoods   int     `db:"n_neighborhoods"`
	RejectionRate    float64 `db:"rejection_rate"`
	ExpectedRate     float64 `db:"expected_rate"`
	MedianP          float64 `db:"median_p"`
}

func (s *Store) InsertKBETs(runID int64, rows []KBET) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO kbet_results
		(run_id, grouping, group_label, neighborhood_size, n_neighborhoods, rejection_rate, expected_rate, median_p)
		VALUES (:run_id, :grouping, :group_label, :neighborhood_size, :n_neighborhoods, :rejection_rate, :expected_rate, :median_p)`, all)
}

func (s *Store) KBETs() ([]KBET, error) {
	var out []KBET
	if err := s.db.Select(&out, `SELECT * FROM kbet_results ORDER BY grouping, group_label`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// SignatureScore aggregates one gene signature over the cells of one sample
// and cell type.
type SignatureScore struct {
	RunID       int64   `db:"run_id"`
	Signature   string  `db:"signature"`
	Sample      string  `db:"sample"`
	Condition   string  `db:"condition"`
	CellType    string  `db:"cell_type"`
	NCells      int     `db:"n_cells"`
	MeanScore   float64 `db:"mean_score"`
	MedianScore float64 `db:"median_score"`
}

func (s *Store) InsertSignatureScores(runID int64, rows []SignatureScore) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO signature_scores
		(run_id, signature, sample, condition, cell_type, n_cells, mean_score, median_score)
		VALUES (:run_id, :signature, :sample, :condition, :cell_type, :n_cells, :mean_score, :median_score)`, all)
}

func (s *Store) SignatureScores(signature string) ([]SignatureScore, error) {
	var out []SignatureScore
	if err := s.db.Select(&out, `SELECT * FROM signature_scores WHERE signature = ? ORDER BY sample, cell_type`, signature); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// Composition is the share of one cluster or cell type contributed by one
// sample.
type Composition struct {
	RunID     int64   `db:"run_id"`
	Cluster   string  `db:"cluster"`
	CellType  string  `db:"cell_type"`
	Condition string  `db:"condition"`
	Sample    string  `db:"sample"`
	NCells    int     `db:"n_cells"`
	Fraction  float64 `db:"fraction"`
}

func (s *Store) InsertCompositions(runID int64, rows []Composition) error {
	all := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].RunID = runID
		all[i] = rows[i]
	}

	return s.insertAll(`INSERT INTO cluster_composition
		(run_id, cluster, cell_type, condition, sample, n_cells, fraction)
		VALUES (:run_id, :cluster, :cell_type, :condition, :sample, :n_cells, :fraction)`, all)
}

func (s *Store) Compositions() ([]Composition, error) {
	var out []Composition
	if err := s.db.Select(&out, `SELECT * FROM cluster_composition ORDER BY cluster, sample`); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}
