// demuxcells assigns every barcode of a pooled two-donor library to its donor
// using sex-specific marker genes, stamps the calls into a bundle, and records
// per-donor tallies in the study's results database. One library per
// invocation, matching how the libraries were sequenced.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/demux"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

var (
	store *results.Store
	runID int64
)

// fatal marks the current run failed before exiting, so the results database
// never holds a run that claims to still be going.
func fatal(v ...interface{}) {
	if store != nil && runID != 0 {
		if err := store.FinishRun(runID, results.StatusFailed); err != nil {
			log.Println(err)
		}
	}
	log.Fatalln(v...)
}

func main() {
	defer STDOUT.Flush()

	var (
		configPath string
		sheetPath  string
		sampleID   string
		matrixDir  string
		outDir     string
		minFemale  float64
		minMale    float64
		keepAll    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&sheetPath, "sheet", "", "(Optional) wet-lab sample sheet (.tsv/.csv/.xls) merged over the config: donors, timestamps, condition cross-checks")
	flag.StringVar(&sampleID, "sample", "", "Sample ID from the study config")
	flag.StringVar(&matrixDir, "matrix", "", "(Optional) cellranger matrix directory. Defaults to the sample's matrix_dir from the config.")
	flag.StringVar(&outDir, "out", "", "(Optional) bundle directory to write. Defaults to <output_dir>/<sample>.")
	flag.Float64Var(&minFemale, "min-female", demux.DefaultOptions().MinFemale, "Minimum summed female-marker counts to call a cell female")
	flag.Float64Var(&minMale, "min-male", demux.DefaultOptions().MinMale, "Minimum summed Y-marker counts to call a cell male")
	flag.BoolVar(&keepAll, "keep-all", false, "Keep doublet and unassigned barcodes in the output bundle instead of dropping them")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if sampleID == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --sample")
	}

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if sheetPath != "" {
		rows, err := study.ReadSampleSheet(sheetPath)
		if err != nil {
			log.Fatalln(err)
		}
		if err := study.MergeSheet(&cfg, rows); err != nil {
			log.Fatalln(err)
		}
		log.Println("Merged", len(rows), "sample sheet rows from", sheetPath)
	}
	sample, ok := cfg.Sample(sampleID)
	if !ok {
		log.Fatalf("Sample %s is not in %s\n", sampleID, configPath)
	}
	if matrixDir == "" {
		matrixDir = sample.MatrixDir
	}
	if matrixDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --matrix, or set matrix_dir for the sample in the config")
	}
	if outDir == "" {
		outDir = coldshock.JoinPath(cfg.OutputDir, sample.ID)
	}

	store, err = results.Open(cfg.ResultsDB)
	if err != nil {
		log.Fatalln(err)
	}
	defer store.Close()

	inputPaths := []string{configPath, coldshock.JoinPath(matrixDir, "matrix.mtx")}
	if sheetPath != "" {
		inputPaths = append(inputPaths, sheetPath)
	}
	inputs := map[string]string{}
	for _, path := range inputPaths {
		sum, err := coldshock.ChecksumFile(path)
		if err != nil {
			log.Fatalln(err)
		}
		inputs[path] = sum
	}

	runID, err = store.BeginRun("demuxcells", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
	if err != nil {
		log.Fatalln(err)
	}

	d, err := expression.ReadMatrixDir(matrixDir)
	if err != nil {
		fatal(err)
	}
	log.Println("Loaded", d.NCells(), "barcodes and", d.NGenes(), "features from", matrixDir)

	// Every downstream tool keys on these two columns, so they are stamped
	// here, at the first step that sees the raw matrix.
	n := d.NCells()
	sampleCol := make([]string, n)
	condCol := make([]string, n)
	for i := range sampleCol {
		sampleCol[i] = sample.ID
		condCol[i] = sample.Condition
	}
	if err := d.Cells.SetStrings(expression.ColSample, sampleCol); err != nil {
		fatal(err)
	}
	if err := d.Cells.SetStrings(expression.ColCondition, condCol); err != nil {
		fatal(err)
	}

	assignment, err := demux.Assign(d, demux.Options{MinFemale: minFemale, MinMale: minMale})
	if err != nil {
		fatal(err)
	}
	if err := demux.Annotate(d, assignment, sample); err != nil {
		fatal(err)
	}

	summaries, err := demux.Summarize(assignment, sample)
	if err != nil {
		fatal(err)
	}
	for _, row := range summaries {
		log.Printf("%s: %s %d cells (%.1f%%)\n", row.Sample, row.Donor, row.NCells, 100*row.Fraction)
	}
	if err := store.InsertDemuxSummaries(runID, summaries); err != nil {
		fatal(err)
	}

	donors, ok := d.Cells.Strings(expression.ColDonor)
	if !ok {
		fatal(fmt.Errorf("cell table has no %s column after annotation", expression.ColDonor))
	}
	fmt.Fprintf(STDOUT, "barcode\tfemale_score\tmale_score\tcall\tdonor\n")
	for i, bc := range d.Barcodes {
		fmt.Fprintf(STDOUT, "%s\t%g\t%g\t%s\t%s\n", bc, assignment.FemaleScore[i], assignment.MaleScore[i], assignment.Calls[i], donors[i])
	}

	if !keepAll {
		before := d.NCells()
		d, err = demux.KeepAssigned(d, assignment)
		if err != nil {
			fatal(err)
		}
		log.Println("Dropped", before-d.NCells(), "doublet or unassigned barcodes;", d.NCells(), "singlets remain")
	}

	if err := expression.WriteBundle(outDir, d, cfg.Study, "demuxcells"); err != nil {
		fatal(err)
	}
	log.Println("Wrote bundle to", outDir)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
