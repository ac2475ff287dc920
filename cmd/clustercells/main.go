// clustercells runs the dimensionality-reduction and clustering step on a
// normalized bundle: PCA over the highly variable genes, a shared
// nearest-neighbor graph, Louvain communities, marker-based cell type labels,
// and a t-SNE figure colored by those labels. The cluster-by-condition
// composition table goes to the results database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/cluster"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/figures"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/reduce"
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
	start := time.Now()
	log.Println("clustercells start")
	defer func() {
		log.Printf("clustercells end. Took %.2f seconds\n", time.Since(start).Seconds())
	}()

	var (
		configPath string
		bundleDir  string
		outDir     string
		figPath    string
		pcs        int
		noScale    bool
		k          int
		prune      float64
		resolution float64
		margin     float64
		skipTSNE   bool
		perplexity float64
	)
	flag.StringVar(&configPath, "config", "", "Path to the study config JSON")
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to read; must carry HVG flags from normalizecells")
	flag.StringVar(&outDir, "out", "", "Bundle directory to write")
	flag.StringVar(&figPath, "figure", "", "(Optional) t-SNE PNG path. Defaults to <figure_dir>/tsne_celltype.png.")
	flag.IntVar(&pcs, "pcs", reduce.DefaultComponents, "Principal components to keep")
	flag.BoolVar(&noScale, "no-scale", false, "Skip unit-variance scaling of genes before PCA")
	flag.IntVar(&k, "k", reduce.DefaultK, "Neighbors per cell for the kNN graph")
	flag.Float64Var(&prune, "prune", reduce.DefaultSNNPrune, "Drop SNN edges with Jaccard overlap below this")
	flag.Float64Var(&resolution, "resolution", cluster.DefaultResolution, "Louvain resolution")
	flag.Float64Var(&margin, "margin", cluster.DefaultLabelMargin, "Marker score margin below which a cluster stays unknown")
	flag.BoolVar(&skipTSNE, "skip-tsne", false, "Skip the t-SNE embedding and figure")
	flag.Float64Var(&perplexity, "perplexity", reduce.DefaultTSNEOptions().Perplexity, "t-SNE perplexity")
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
		figPath = coldshock.JoinPath(cfg.FigureDir, "tsne_celltype.png")
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

	runID, err = store.BeginRun("clustercells", cfg.Study, os.Args[1:], inputs, sessioninfo.Get().String())
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
	hvgIdx, err := normalize.HVGIndices(d)
	if err != nil {
		fatal(err)
	}
	log.Println("PCA over", len(hvgIdx), "highly variable genes")

	dense := normalize.Dense(d.Counts, sizeFactors, hvgIdx)
	model, pcaEmb, err := reduce.PCA(dense, hvgIdx, reduce.PCAOptions{NComponents: pcs, Scale: !noScale})
	if err != nil {
		fatal(err)
	}
	d.PCA = model
	d.Embeddings[pcaEmb.Name] = pcaEmb

	explained := 0.0
	for _, v := range model.VarianceExplained {
		explained += v
	}
	log.Printf("%d PCs explain %.1f%% of the variance\n", model.NPCs(), 100*explained)

	neighbors, err := reduce.KNN(pcaEmb.Coords, k)
	if err != nil {
		fatal(err)
	}
	edges := reduce.SNN(neighbors, prune)
	log.Println("SNN graph has", len(edges), "edges")

	components := cluster.Components(d.NCells(), edges)
	big := 0
	for _, comp := range components {
		if float64(len(comp)) > 0.01*float64(d.NCells()) {
			big++
		}
	}
	log.Println("Graph has", len(components), "connected components,", big, "holding more than 1% of cells")
	if big > 1 {
		log.Println("Warning: the SNN graph is fragmented; consider raising --k or lowering --prune")
	}

	clusters, err := cluster.Louvain(d.NCells(), edges, resolution)
	if err != nil {
		fatal(err)
	}
	log.Println("Louvain found", cluster.NClusters(clusters), "clusters at resolution", resolution)

	types, err := cluster.LabelClusters(d, sizeFactors, clusters, cluster.DefaultMarkers(), margin)
	if err != nil {
		fatal(err)
	}
	sizes := make(map[int]int)
	for _, c := range clusters {
		sizes[c]++
	}
	for c := 0; c < cluster.NClusters(clusters); c++ {
		log.Printf("Cluster %d: %d cells, %s\n", c, sizes[c], types[c])
	}

	if err := cluster.Annotate(d, clusters, types); err != nil {
		fatal(err)
	}

	composition, err := cluster.Composition(d)
	if err != nil {
		fatal(err)
	}
	if err := store.InsertCompositions(runID, composition); err != nil {
		fatal(err)
	}

	if !skipTSNE {
		topts := reduce.DefaultTSNEOptions()
		topts.Perplexity = perplexity
		tsneEmb, err := reduce.TSNE(pcaEmb.Coords, topts)
		if err != nil {
			fatal(err)
		}
		d.Embeddings[tsneEmb.Name] = tsneEmb

		cellTypes, ok := d.Cells.Strings(expression.ColCellType)
		if !ok {
			fatal(fmt.Errorf("cell table has no %s column after annotation", expression.ColCellType))
		}
		sopts := figures.ScatterOptions{Title: cfg.Study + " cell types"}
		if err := figures.EmbeddingScatter(figPath, tsneEmb, cellTypes, sopts); err != nil {
			fatal(err)
		}
		log.Println("Wrote", figPath)
	}

	if err := expression.WriteBundle(outDir, d, cfg.Study, "clustercells"); err != nil {
		fatal(err)
	}
	log.Println("Wrote bundle to", outDir)

	if err := store.FinishRun(runID, results.StatusOK); err != nil {
		log.Fatalln(err)
	}
}
