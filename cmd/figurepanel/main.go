// figurepanel pastes rendered figure PNGs onto one canvas, resizing panels to
// a shared column width, for multi-panel study figures.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/massonix/sc-cold-shock-artifacts/figures"
	_ "github.com/massonix/sc-cold-shock-artifacts/sessioninfo/autoprint"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: figurepanel [flags] panel1.png panel2.png ...")
		flag.PrintDefaults()
	}
}

func main() {
	var (
		outPath string
		cols    int
	)
	flag.StringVar(&outPath, "out", "", "Path for the assembled PNG")
	flag.IntVar(&cols, "cols", 2, "Panels per row")
	flag.Parse()

	if outPath == "" {
		flag.Usage()
		log.Fatalln("Please provide --out")
	}

	panels := flag.Args()
	if len(panels) == 0 {
		flag.Usage()
		log.Fatalln("Please provide at least one panel image")
	}

	if err := figures.Montage(outPath, panels, cols); err != nil {
		log.Fatalln(err)
	}
	log.Println("Wrote", outPath, "with", len(panels), "panels in", cols, "columns")
}
