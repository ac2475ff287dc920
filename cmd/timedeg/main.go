// timedeg tests every gene for differential expression between each storage
// condition and the fresh reference, per annotated cell type and over all
// cells. The full table goes to stdout and the results database, and a
// DEG-count bar figure shows how the artifact grows with storage time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/diffexp"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
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

	start := time.Now()
	log.Println("timedeg start")
	defer func() {
		log.Printf("timedeg end. Took %.2f seconds\n", time.Since(start).Seconds())
	}()

	defaults := diffexp.DefaultOptions()

	var (
		configPath  string
		bundleDir   string
		figPath     string
		minFraction float64
		pseudocount float64
		minCells    int
		padjCutoff  float64
		lfcCutoff   float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read; must carry cluster annotations")
	flag.StringVar(&figPath, "figure", "", "(Optional) DEG-count PNG path. Defaults to <figure_dir>/deg_counts.png.")
	flag.Float64Var(&minFraction, "min-fraction", defaults.MinFraction, "Skip genes detected in fewer cells than this share of both groups")
	flag.Float64Var(&pseudocount, "pseudocount", defaults.Pseudocount, "Pseudocount added to group means before the fold change")
	flag.IntVar(&minCells, "min-cells", defaults.MinCells, "Smallest group worth testing")
	flag.Float64Var(&padjCutoff, "padj", defaults.PadjCutoff, "Adjusted p cutoff for the significance counts")
	flag.Float64Var(&lfcCutoff, "lfc", defaults.LFCCutoff, "Absolute log2 fold change cutoff for the significance counts")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if bundleDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if figPath == "" {
		figPath = coldshock.JoinPath(cfg.FigureDir, "deg_counts.png")
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

	runID, err = store.BeginRun("timedeg", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
	if err != nil {
		log.Fatalln(err)
	}

	d, _, err := expression.OpenBundle(bundleDir)
	if err != nil {
		fatal(err)
	}
	log.Println("Loaded", d.NCells(), "cells and", d.NGenes(), "genes from", bundleDir)

	sizeFactors, err := normalize.SizeFactors(d.Counts)
	if err != nil {
		fatal(err)
	}

	opts := diffexp.Options{
		MinFraction: minFraction,
		Pseudocount: pseudocount,
		MinCells:    minCells,
		PadjCutoff:  padjCutoff,
		LFCCutoff:   lfcCutoff,
	}
	degs, counts, err := diffexp.ConditionContrasts(d, sizeFactors, opts)
	if err != nil {
		fatal(err)
	}
	log.Println("Tested", len(degs), "gene-contrast pairs")
	for _, row := range counts {
		log.Printf("%s / %s: %d up, %d down of %d tested\n", row.Contrast, row.CellType, row.NUp, row.NDown, row.NTested)
	}

	fmt.Fprintf(STDOUT, "contrast\tcell_type\tgene\tlog2fc\tp_value\tp_adjusted\tmean_case\tmean_ref\tpct_case\tpct_ref\n")
	for _, row := range degs {
		padj := "NA"
		if row.PAdjusted.Valid {
			padj = fmt.Sprintf("%g", row.PAdjusted.Float64)
		}
		fmt.Fprintf(STDOUT, "%s\t%s\t%s\t%g\t%g\t%s\t%g\t%g\t%g\t%g\n",
			row.Contrast, row.CellType, row.Gene, row.Log2FC, row.PValue, padj,
			row.MeanCase, row.MeanRef, row.PctCase, row.PctRef)
	}

	if err := store.InsertDEGs(runID, degs); err != nil {
		fatal(err)
	}
	if err := store.InsertDEGCounts(runID, counts); err != nil {
		fatal(err)
	}

	if err := figures.DEGCountBars(figPath, counts); err != nil {
		fatal(err)
	}
	log.Println("Wrote", figPath)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
