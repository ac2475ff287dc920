// bundleinfo prints what a bundle directory holds: dimensions, the tool that
// wrote it, member files with their checksums, metadata columns, embeddings,
// and the stored PCA variance. With --verify it re-hashes every member
// against the manifest.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	defer STDOUT.Flush()

	var (
		bundleDir string
		verify    bool
	)
	flag.StringVar(&bundleDir, "bundle", "", "Bundle directory to inspect")
	flag.BoolVar(&verify, "verify", false, "Re-hash every member file against the manifest")
	flag.Parse()

	if bundleDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --bundle")
	}

	man, err := expression.ReadManifest(bundleDir)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Fprintf(STDOUT, "study\t%s\n", man.Study)
	fmt.Fprintf(STDOUT, "tool\t%s\n", man.Tool)
	fmt.Fprintf(STDOUT, "created_at\t%s\n", man.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(STDOUT, "n_cells\t%d\n", man.NCells)
	fmt.Fprintf(STDOUT, "n_genes\t%d\n", man.NGenes)
	fmt.Fprintf(STDOUT, "session\t%s\n", man.Session)

	keys := make([]string, 0, len(man.Members))
	for key := range man.Members {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		member := man.Members[key]
		fmt.Fprintf(STDOUT, "member\t%s\t%s\t%s\n", key, member.File, member.Checksum)
	}

	for _, table := range []struct {
		label string
		cols  map[string]expression.ColumnKind
	}{
		{"cell_column", man.CellColumns},
		{"gene_column", man.GeneColumns},
	} {
		names := make([]string, 0, len(table.cols))
		for name := range table.cols {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(STDOUT, "%s\t%s\t%s\n", table.label, name, table.cols[name])
		}
	}

	for _, name := range man.EmbeddingNames() {
		fmt.Fprintf(STDOUT, "embedding\t%s\n", name)
	}

	for i, v := range man.PCAVariance {
		fmt.Fprintf(STDOUT, "pca_variance\tPC%d\t%g\n", i+1, v)
	}

	if verify {
		if err := man.Verify(bundleDir); err != nil {
			log.Fatalln(err)
		}
		log.Println("All", len(man.Members), "member checksums match")
	}
}
