// kbetmix quantifies how well cells from different storage conditions mix in
// embedding space. For every condition pair it runs the kBET chi-square test
// over sampled neighborhoods at one or more neighborhood sizes, prints the
// rejection rates, stores them, and renders a bar figure.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/kbet"
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

	defaults := kbet.DefaultOptions()

	var (
		configPath string
		bundleDir  string
		embedding  string
		kList      string
		figPath    string
		fraction   float64
		maxTests   int
		alpha      float64
		seed       int64
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read")
	flag.StringVar(&embedding, "embedding", "pca", "Embedding to test neighborhoods in")
	flag.StringVar(&kList, "k", "0", "Comma-delimited neighborhood sizes; 0 means a tenth of the cells, at least ten")
	flag.StringVar(&figPath, "figure", "", "(Optional) rejection-rate PNG path. Defaults to <figure_dir>/kbet_rejection.png.")
	flag.Float64Var(&fraction, "fraction", defaults.TestFraction, "Share of cells whose neighborhoods are tested")
	flag.IntVar(&maxTests, "max-tests", defaults.MaxTests, "Cap on tested neighborhoods per pair")
	flag.Float64Var(&alpha, "alpha", defaults.Alpha, "Per-neighborhood rejection level")
	flag.Int64Var(&seed, "seed", defaults.Seed, "Seed for neighborhood sampling")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if bundleDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}

	ks := make([]int, 0)
	for i, col := range strings.Split(kList, ",") {
		j, err := strconv.ParseInt(strings.TrimSpace(col), 10, 32)
		if err != nil {
			log.Fatalf("The neighborhood size %d (value %s) is not an integer", i, col)
		}
		ks = append(ks, int(j))
	}

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if figPath == "" {
		figPath = coldshock.JoinPath(cfg.FigureDir, "kbet_rejection.png")
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

	runID, err = store.BeginRun("kbetmix", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
	if err != nil {
		log.Fatalln(err)
	}

	d, _, err := expression.OpenBundle(bundleDir)
	if err != nil {
		fatal(err)
	}
	log.Println("Loaded", d.NCells(), "cells from", bundleDir)

	fmt.Fprintf(STDOUT, "grouping\tgroup_label\tneighborhood_size\tn_neighborhoods\trejection_rate\texpected_rate\tmedian_p\n")

	all := make([]results.KBET, 0)
	figRows := make([]results.KBET, 0)
	for _, k := range ks {
		opts := kbet.Options{K: k, TestFraction: fraction, MaxTests: maxTests, Alpha: alpha, Seed: seed}
		rows, err := kbet.PairwiseByCondition(d, embedding, opts)
		if err != nil {
			fatal(err)
		}
		for _, row := range rows {
			fmt.Fprintf(STDOUT, "%s\t%s\t%d\t%d\t%g\t%g\t%g\n",
				row.Grouping, row.GroupLabel, row.NeighborhoodSize, row.NNeighborhoods,
				row.RejectionRate, row.ExpectedRate, row.MedianP)
			log.Printf("%s k=%d: rejection %.3f (null %.3f) over %d neighborhoods\n",
				row.GroupLabel, row.NeighborhoodSize, row.RejectionRate, row.ExpectedRate, row.NNeighborhoods)
		}
		all = append(all, rows...)

		// Bars from several sizes need distinct labels.
		for _, row := range rows {
			if len(ks) > 1 {
				row.GroupLabel = fmt.Sprintf("%s k=%d", row.GroupLabel, row.NeighborhoodSize)
			}
			figRows = append(figRows, row)
		}
	}

	if err := store.InsertKBETs(runID, all); err != nil {
		fatal(err)
	}

	if err := figures.KBETBars(figPath, figRows); err != nil {
		fatal(err)
	}
	log.Println("Wrote", figPath)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
