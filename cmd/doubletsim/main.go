// doubletsim scores every cell of a bundle for doublet likeness by simulating
// synthetic doublets from random cell pairs and measuring their enrichment in
// each cell's neighborhood. Calls are cross-checked in the log against the
// doublet share that sex-marker demultiplexing saw for the same libraries.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/demux"
	"github.com/massonix/sc-cold-shock-artifacts/doublet"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
	"github.com/massonix/sc-cold-shock-artifacts/study"
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

// demuxDoubletFraction pools the stored demultiplexing tallies of the given
// samples into one doublet share. The bool reports whether any were found.
func demuxDoubletFraction(rows []results.DemuxSummary, samples map[string]bool) (float64, bool) {
	total, doublets := 0, 0
	for _, row := range rows {
		if !samples[row.Sample] {
			continue
		}
		total += row.NCells
		if row.Donor == string(demux.CallDoublet) {
			doublets += row.NCells
		}
	}
	if total == 0 {
		return 0, false
	}

	return float64(doublets) / float64(total), true
}

func main() {
	start := time.Now()
	log.Println("doubletsim start")
	defer func() {
		log.Printf("doubletsim end. Took %.2f seconds\n", time.Since(start).Seconds())
	}()

	defaults := doublet.DefaultOptions()

	var (
		configPath string
		bundleDir  string
		outDir     string
		figPath    string
		rate       float64
		nsim       int
		k          int
		seed       int64
		expected   float64
		fromDemux  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read; needs a fitted PCA model from clustercells")
	flag.StringVar(&outDir, "out", "", "Bundle directory to write")
	flag.StringVar(&figPath, "figure", "", "(Optional) score-histogram PNG path. Defaults to <figure_dir>/doublet_scores.png.")
	flag.Float64Var(&rate, "rate", defaults.Rate, "Expected doublet fraction per thousand recovered cells")
	flag.IntVar(&nsim, "nsim", defaults.NSim, "Simulated doublets; 0 means one per cell")
	flag.IntVar(&k, "k", defaults.K, "Neighborhood size scored in the combined space")
	flag.Int64Var(&seed, "seed", defaults.Seed, "Seed for pair sampling")
	flag.Float64Var(&expected, "expected", 0, "(Optional) expected doublet fraction; overrides the rate-derived one when positive")
	flag.BoolVar(&fromDemux, "expected-from-demux", false, "Take the expected fraction from the stored demultiplexing tallies")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if bundleDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}
	if outDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --out")
	}

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if figPath == "" {
		figPath = coldshock.JoinPath(cfg.FigureDir, "doublet_scores.png")
	}

	store, err = results.Open(cfg.ResultsDB)
	if err != nil {
		log.Fatalln(err)
	}
	defer store.Close()

	inputs := map[string]string{}
	for _, path := range []string{configPath, coldshock.JoinPath(bundleDir, expression.ManifestName)} {
		sum, err := coldshock.ChecksumFile(path)
		if err != nil {
			log.Fatalln(err)
		}
		inputs[path] = sum
	}

	runID, err = store.BeginRun("doubletsim", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
	if err != nil {
		log.Fatalln(err)
	}

	d, _, err := expression.OpenBundle(bundleDir)
	if err != nil {
		fatal(err)
	}
	log.Println("Loaded", d.NCells(), "cells from", bundleDir)

	samples := make(map[string]bool)
	if names, ok := d.Cells.Strings(expression.ColSample); ok {
		for _, s := range names {
			samples[s] = true
		}
	}

	demuxRows, err := store.DemuxSummaries()
	if err != nil {
		fatal(err)
	}
	demuxFrac, haveDemux := demuxDoubletFraction(demuxRows, samples)
	if haveDemux {
		log.Printf("Demultiplexing called %.2f%% of these barcodes doublets\n", 100*demuxFrac)
	}

	opts := doublet.Options{NSim: nsim, K: k, Rate: rate, ExpectedFraction: expected, Seed: seed}
	if fromDemux {
		if !haveDemux {
			fatal("--expected-from-demux was toggled, but the results database holds no demultiplexing tallies for these samples")
		}
		opts.ExpectedFraction = demuxFrac
	}

	scores, err := doublet.Simulate(d, opts)
	if err != nil {
		fatal(err)
	}
	called := float64(scores.NCalled()) / float64(d.NCells())
	log.Printf("Expected doublet fraction %.2f%%, score threshold %.3f\n", 100*scores.Expected, scores.Threshold)
	log.Printf("Flagged %d of %d cells (%.2f%%); score mean %.3f, sd %.3f\n",
		scores.NCalled(), d.NCells(), 100*called, scores.Mean, scores.SD)
	if haveDemux {
		log.Printf("Cross-check: simulation %.2f%% vs demultiplexing %.2f%%\n", 100*called, 100*demuxFrac)
	}

	if err := doublet.Annotate(d, scores); err != nil {
		fatal(err)
	}

	if err := figures.HistogramPNG(figPath, "simulated doublet score", scores.Score, 30); err != nil {
		fatal(err)
	}
	log.Println("Wrote", figPath)

	if err := expression.WriteBundle(outDir, d, cfg.Study, "doubletsim"); err != nil {
		fatal(err)
	}
	log.Println("Wrote bundle to", outDir)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
