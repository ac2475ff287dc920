// signaturescore computes bin-matched module scores for gene signatures over
// every cell of a bundle, summarizes them per sample and cell type into the
// results database, tracks the score against storage time, and optionally
// tests the overlap between a stored DEG contrast and each signature.
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
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
	"github.com/massonix/sc-cold-shock-artifacts/signature"
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

	defaults := signature.DefaultScoreOptions()

	var (
		configPath   string
		bundleDir    string
		outDir       string
		setsPath     string
		layout       string
		customLayout string
		builtins     string
		figPath      string
		bins         int
		controls     int
		seed         int64
		degContrast  string
		padjCutoff   float64
		lfcCutoff    float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read")
	flag.StringVar(&outDir, "out", "", "(Optional) bundle directory to write with per-cell score columns")
	flag.StringVar(&setsPath, "sets", "", "(Optional) gene-set file to score")
	flag.StringVar(&layout, "layout", "LIST", fmt.Sprint("Layout of your gene-set file. Currently, options include: ", signature.LayoutNames()))
	flag.StringVar(&customLayout, "custom-layout", "", "Optional: a gene-set layout with 0-based columns as follows: SetCol,GeneCol")
	flag.StringVar(&builtins, "builtin", "", fmt.Sprint("(Optional) comma-delimited builtin signatures to score. Options include: ", signature.BuiltinNames()))
	flag.StringVar(&figPath, "figure", "", "(Optional) score-over-time PNG path. Defaults to <figure_dir>/signature_trend.png.")
	flag.IntVar(&bins, "bins", defaults.Bins, "Expression bins for control-gene matching")
	flag.IntVar(&controls, "controls", defaults.Controls, "Control genes drawn per signature gene")
	flag.Int64Var(&seed, "seed", defaults.Seed, "Seed for control-gene sampling")
	flag.StringVar(&degContrast, "deg-contrast", "", "(Optional) stored DEG contrast to test for overlap with each signature")
	flag.Float64Var(&padjCutoff, "padj", 0.05, "Adjusted p cutoff for the overlap test")
	flag.Float64Var(&lfcCutoff, "lfc", 0.25, "Absolute log2 fold change cutoff for the overlap test")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --config")
	}
	if bundleDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}
	if setsPath == "" && builtins == "" {
		builtins = signature.BuiltinNames()
	}

	if customLayout != "" {
		layout = "CUSTOM"

		cols := strings.Split(customLayout, ",")
		if x := len(cols); x != 2 {
			log.Fatalf("--custom-layout was toggled; 2 column numbers were expected, but %d were given\n", x)
		}
		intCols := make([]int, 0, len(cols))
		for i, col := range cols {
			j, err := strconv.ParseInt(col, 10, 32)
			if err != nil {
				log.Fatalf("The identifier for column %d (value %s) is not an integer", i, col)
			}
			intCols = append(intCols, int(j))
		}

		parseRule := func(layout *signature.Layout, row []string) (signature.Row, error) {
			return signature.TSVParseRow(layout, row)
		}

		udf := signature.Layout{
			Delimiter: '\t',
			Comment:   '#',
			ColSet:    intCols[0],
			ColGene:   intCols[1],
			Parser:    &parseRule,
		}

		log.Println("Using custom parser:")
		fmt.Fprintf(os.Stderr, "%+v\n", udf)

		signature.Layouts["CUSTOM"] = udf
	}

	sets := make([]signature.Set, 0)
	for _, name := range strings.Split(builtins, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set, ok := signature.Builtins[name]
		if !ok {
			log.Fatalf("Builtin signature %s is not known. Options include: %s\n", name, signature.BuiltinNames())
		}
		sets = append(sets, set)
	}
	if setsPath != "" {
		fileSets, err := signature.ReadSetsFile(setsPath, layout)
		if err != nil {
			log.Fatalln(err)
		}
		sets = append(sets, fileSets...)
	}
	if len(sets) == 0 {
		flag.PrintDefaults()
		log.Fatalln("Please provide --sets or --builtin")
	}

	cfg, err := study.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if figPath == "" {
		figPath = coldshock.JoinPath(cfg.FigureDir, "signature_trend.png")
	}

	store, err = results.Open(cfg.ResultsDB)
	if err != nil {
		log.Fatalln(err)
	}
	defer store.Close()

	inputs := map[string]string{}
	checks := []string{configPath, coldshock.JoinPath(bundleDir, expression.ManifestName)}
	if setsPath != "" {
		checks = append(checks, setsPath)
	}
	for _, path := range checks {
		sum, err := coldshock.ChecksumFile(path)
		if err != nil {
			log.Fatalln(err)
		}
		inputs[path] = sum
	}

	runID, err = store.BeginRun("signaturescore", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
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

	var degs []results.DEG
	if degContrast != "" {
		degs, err = store.DEGs(degContrast)
		if err != nil {
			fatal(err)
		}
		if len(degs) == 0 {
			fatal(fmt.Errorf("the results database holds no DEGs for contrast %s", degContrast))
		}
	}

	fmt.Fprintf(STDOUT, "signature\tsample\tcondition\tcell_type\tn_cells\tmean_score\tmedian_score\n")

	opts := signature.ScoreOptions{Bins: bins, Controls: controls, Seed: seed}
	lines := make([]figures.Line, 0, len(sets))
	perCell := make([][]float64, 0, len(sets))
	scoredNames := make([]string, 0, len(sets))
	for _, set := range sets {
		_, missing := signature.Resolve(d, set)
		if len(missing) > 0 {
			log.Printf("%s: %d of %d genes absent from the dataset\n", set.Name, len(missing), len(set.Genes))
		}

		scores, err := signature.ModuleScore(d, sizeFactors, set, opts)
		if err != nil {
			fatal(err)
		}
		if err := d.Cells.SetFloats("signature_"+set.Name, scores); err != nil {
			fatal(err)
		}
		perCell = append(perCell, scores)
		scoredNames = append(scoredNames, set.Name)

		rows, err := signature.Summarize(d, set.Name, scores)
		if err != nil {
			fatal(err)
		}
		for _, row := range rows {
			fmt.Fprintf(STDOUT, "%s\t%s\t%s\t%s\t%d\t%g\t%g\n",
				row.Signature, row.Sample, row.Condition, row.CellType, row.NCells, row.MeanScore, row.MedianScore)
		}
		if err := store.InsertSignatureScores(runID, rows); err != nil {
			fatal(err)
		}

		points, rho, err := signature.TimeTrend(d, scores)
		if err != nil {
			fatal(err)
		}
		log.Printf("%s vs storage hours: Spearman rho %.2f over %d samples\n", set.Name, rho, len(points))

		line := figures.Line{Name: set.Name}
		for _, pt := range points {
			line.Hours = append(line.Hours, pt.Hours)
			line.Values = append(line.Values, pt.Median)
		}
		lines = append(lines, line)

		if degContrast != "" {
			enr, err := signature.DEGOverlap(degs, set, padjCutoff, lfcCutoff)
			if err != nil {
				fatal(err)
			}
			log.Printf("%s overlap with %s DEGs: %d shared, %d DEG-only, %d signature-only of %d genes; odds ratio %.1f, enrichment p %.2g\n",
				set.Name, degContrast, enr.NOverlap, enr.NDEGOnly, enr.NSigOnly, enr.NBackground, enr.OddsRatio, enr.EnrichP)
		}
	}

	for i := range scoredNames {
		for j := i + 1; j < len(scoredNames); j++ {
			rho, err := signature.Spearman(perCell[i], perCell[j])
			if err != nil {
				fatal(err)
			}
			log.Printf("Scores of %s and %s correlate at Spearman rho %.2f per cell\n", scoredNames[i], scoredNames[j], rho)
		}
	}

	if err := figures.MetricOverTime(figPath, "signature score over storage time", "median module score", lines); err != nil {
		fatal(err)
	}
	log.Println("Wrote", figPath)

	if outDir != "" {
		if err := expression.WriteBundle(outDir, d, cfg.Study, "signaturescore"); err != nil {
			fatal(err)
		}
		log.Println("Wrote bundle to", outDir)
	}

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
