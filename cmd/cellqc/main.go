// cellqc merges the per-library bundles of a study, computes per-cell quality
// metrics, flags outlier cells sample by sample with an adaptive MAD rule,
// drops the failures and the near-empty genes, and records per-sample
// summaries in the results database. When donor calls are present it also
// reports each donor's library-complexity trajectory over storage time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/qc"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
	"github.com/massonix/sc-cold-shock-artifacts/study"
	"github.com/massonix/sc-cold-shock-artifacts/timecourse"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

var (
	store *results.Store
	runID int64
)

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
		bundleList string
		outDir     string
		figPath    string
		mitoPrefix string
		nmads      float64
		minCounts  float64
		minGenes   float64
		maxMito    float64
		minCells   int
		histBins   int
		window     int
		discard    int
		keepFailed bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleList, "bundle", "", "Comma-delimited bundle directories to read; several libraries merge into one dataset")
	flag.StringVar(&outDir, "out", "", "Bundle directory to write")
	flag.StringVar(&figPath, "figure", "", "(Optional) donor-trajectory PNG path. Defaults to <figure_dir>/library_complexity.png.")
	flag.StringVar(&mitoPrefix, "mito-prefix", qc.DefaultMitoPrefix, "Gene name prefix that marks mitochondrial genes")
	flag.Float64Var(&nmads, "nmads", qc.DefaultOptions().NMADs, "MADs from the per-sample median that mark an outlier")
	flag.Float64Var(&minCounts, "min-counts", 0, "(Optional) hard floor on library size, applied on top of the adaptive cutoff")
	flag.Float64Var(&minGenes, "min-genes", 0, "(Optional) hard floor on detected genes")
	flag.Float64Var(&maxMito, "max-pct-mito", 0, "(Optional) cap on the adaptive mitochondrial cutoff, in percent")
	flag.IntVar(&minCells, "min-cells", 3, "Drop genes detected in fewer cells than this after cell filtering")
	flag.IntVar(&histBins, "hist-bins", 20, "Bins for the terminal library-size histogram")
	flag.IntVar(&window, "window", timecourse.DefaultWindow, "Adjacent timepoints smoothed on each side of the donor trajectories")
	flag.IntVar(&discard, "discard", timecourse.DefaultDiscards, "Extreme values discarded from each end when smoothing trajectories")
	flag.BoolVar(&keepFailed, "keep-failed", false, "Annotate the verdicts but keep failing cells in the output bundle")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if bundleList == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}
	if outDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --out")
	}
	bundleDirs := strings.Split(bundleList, ",")

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if figPath == "" {
		figPath = coldshock.JoinPath(cfg.FigureDir, "library_complexity.png")
	}

	store, err = results.Open(cfg.ResultsDB)
	if err != nil {
		log.Fatalln(err)
	}
	defer store.Close()

	checks := []string{configPath}
	for _, dir := range bundleDirs {
		checks = append(checks, coldshock.JoinPath(strings.TrimSpace(dir), expression.ManifestName))
	}
	inputs := map[string]string{}
	for _, path := range checks {
		sum, err := coldshock.ChecksumFile(path)
		if err != nil {
			log.Fatalln(err)
		}
		inputs[path] = sum
	}

	runID, err = store.BeginRun("cellqc", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
	if err != nil {
		log.Fatalln(err)
	}

	parts := make([]*expression.Dataset, 0, len(bundleDirs))
	for _, dir := range bundleDirs {
		dir = strings.TrimSpace(dir)
		part, _, err := expression.OpenBundle(dir)
		if err != nil {
			fatal(err)
		}
		log.Println("Loaded", part.NCells(), "cells and", part.NGenes(), "genes from", dir)
		parts = append(parts, part)
	}
	d := parts[0]
	if len(parts) > 1 {
		d, err = expression.Concat(parts...)
		if err != nil {
			fatal(err)
		}
		log.Println("Merged", len(parts), "libraries into", d.NCells(), "cells")
	}

	metrics, err := qc.AnnotateMetrics(d, mitoPrefix)
	if err != nil {
		fatal(err)
	}
	mom := metrics.Moments
	log.Printf("Library size mean %.0f (sd %.0f), detected genes mean %.0f (sd %.0f)",
		mom.Counts.Mean(), mom.Counts.StandardDeviation(), mom.Genes.Mean(), mom.Genes.StandardDeviation())
	log.Printf("Mitochondrial fraction mean %.2f%%, ribosomal %.2f%%", mom.Mito.Mean(), mom.Ribo.Mean())

	logCounts := make([]float64, len(metrics.TotalCounts))
	for i, c := range metrics.TotalCounts {
		logCounts[i] = math.Log10(c + 1)
	}
	log.Println("Library size distribution (log10 UMI):")
	if err := figures.TerminalHist(os.Stderr, logCounts, histBins); err != nil {
		fatal(err)
	}

	opts := qc.Options{NMADs: nmads, MinCounts: minCounts, MinGenes: minGenes, MaxPctMito: maxMito}
	verdict, err := qc.EvaluatePerSample(d, metrics, opts)
	if err != nil {
		fatal(err)
	}
	if err := qc.Annotate(d, verdict); err != nil {
		fatal(err)
	}
	log.Println(verdict.NPass(), "of", d.NCells(), "cells pass")

	summaries, err := qc.Summarize(d, metrics, verdict)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(STDOUT, "sample\tcondition\tn_cells\tn_pass\tn_fail_counts\tn_fail_genes\tn_fail_mito\tmedian_counts\tmedian_genes\tmedian_pct_mito\n")
	for _, row := range summaries {
		fmt.Fprintf(STDOUT, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%g\t%g\t%g\n",
			row.Sample, row.Condition, row.NCells, row.NPass, row.NFailCounts, row.NFailGenes, row.NFailMito,
			row.MedianCounts, row.MedianGenes, row.MedianPctMito)
	}
	if err := store.InsertQCSummaries(runID, summaries); err != nil {
		fatal(err)
	}

	// The storage-time trajectory needs donor calls, which only exist when
	// demuxcells ran upstream.
	if _, ok := d.Cells.Strings(expression.ColDonor); ok {
		trajectories, err := timecourse.RunMetric(d, expression.ColNGenes, window, discard)
		if err != nil {
			fatal(err)
		}
		for _, tr := range trajectories {
			log.Printf("Donor %s: %s peaks at %s (median %.0f genes), bottoms at %s (median %.0f)\n",
				tr.Donor, tr.Metric, tr.ConditionAtMax, tr.Max, tr.ConditionAtMin, tr.Min)
			if tr.DropStart != "" {
				log.Printf("Donor %s: steepest loss %.0f%% between %s and %s\n",
					tr.Donor, 100*tr.MaxOneStepDrop, tr.DropStart, tr.DropEnd)
			}
		}

		series, err := timecourse.MetricSeries(d, expression.ColNGenes)
		if err != nil {
			fatal(err)
		}
		lines := make([]figures.Line, 0, len(series))
		for _, s := range series {
			line := figures.Line{Name: s.Donor}
			for _, e := range s.Entries {
				line.Hours = append(line.Hours, float64(e.Condition.Hours))
				line.Values = append(line.Values, e.Metric)
			}
			lines = append(lines, line)
		}
		if err := figures.MetricOverTime(figPath, "library complexity over storage time", "median detected genes", lines); err != nil {
			fatal(err)
		}
		log.Println("Wrote", figPath)
	} else {
		log.Println("No donor calls in the cell table; skipping the storage-time trajectories")
	}

	if !keepFailed {
		d, err = qc.Filter(d, verdict)
		if err != nil {
			fatal(err)
		}
		before := d.NGenes()
		d, err = qc.FilterGenes(d, minCells)
		if err != nil {
			fatal(err)
		}
		log.Println("Dropped", before-d.NGenes(), "genes detected in fewer than", minCells, "cells")
	}

	if err := expression.WriteBundle(outDir, d, cfg.Study, "cellqc"); err != nil {
		fatal(err)
	}
	log.Println("Wrote bundle to", outDir, "with", d.NCells(), "cells and", d.NGenes(), "genes")

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
