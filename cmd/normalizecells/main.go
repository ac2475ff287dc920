// normalizecells computes size factors and per-gene expression statistics for
// a bundle, flags the highly variable genes off the mean-variance trend, and
// writes the annotated bundle plus a mean-variance figure.
package main

import (
	"flag"
	"log"
	"os"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
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

func main() {
	var (
		configPath string
		bundleDir  string
		outDir     string
		figPath    string
		hvgBins    int
		hvgTop     int
		hvgMinMean float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read")
	flag.StringVar(&outDir, "out", "", "Bundle directory to write")
	flag.StringVar(&figPath, "figure", "", "(Optional) mean-variance PNG path. Defaults to <figure_dir>/mean_variance.png.")
	flag.IntVar(&hvgBins, "hvg-bins", normalize.DefaultHVGBins, "Mean-expression bins for the variance trend")
	flag.IntVar(&hvgTop, "hvg-top", normalize.DefaultHVGTop, "Number of highly variable genes to keep")
	flag.Float64Var(&hvgMinMean, "hvg-min-mean", normalize.DefaultHVGMinMean, "Minimum mean normalized expression for a gene to be an HVG candidate")
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
		figPath = coldshock.JoinPath(cfg.FigureDir, "mean_variance.png")
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

	runID, err = store.BeginRun("normalizecells", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
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
	stats, err := normalize.ComputeGeneStats(d.Counts, sizeFactors)
	if err != nil {
		fatal(err)
	}
	hvg, err := normalize.SelectHVG(stats, hvgBins, hvgTop, hvgMinMean)
	if err != nil {
		fatal(err)
	}
	log.Println("Flagged", hvg.NKept, "of", d.NGenes(), "genes as highly variable")

	if err := normalize.Annotate(d, stats, hvg); err != nil {
		fatal(err)
	}

	if err := figures.MeanVarianceScatter(figPath, stats, hvg.Keep); err != nil {
		fatal(err)
	}
	log.Println("Wrote", figPath)

	if err := expression.WriteBundle(outDir, d, cfg.Study, "normalizecells"); err != nil {
		fatal(err)
	}
	log.Println("Wrote bundle to", outDir)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
