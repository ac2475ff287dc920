package reduce

import (
	"fmt"

	"github.com/danaugrs/go-tsne/tsne"
	"gonum.org/v1/gonum/mat"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// t-SNE defaults, matching the usual exploratory settings.
const (
	DefaultPerplexity   = 30
	DefaultLearningRate = 200
	DefaultTSNEIter     = 1000
)

// TSNEOptions tunes the embedding.
type TSNEOptions struct {
	Perplexity   float64
	LearningRate float64
	MaxIter      int
	Verbose      bool
}

func DefaultTSNEOptions() TSNEOptions {
	return TSNEOptions{
		Perplexity:   DefaultPerplexity,
		LearningRate: DefaultLearningRate,
		MaxIter:      DefaultTSNEIter,
	}
}

// TSNE embeds the given coordinates, usually principal component scores,
// into two dimensions for plotting.
func TSNE(coords [][]float64, opts TSNEOptions) (*expression.Embedding, error) {
	n := len(coords)
	if n == 0 {
		return nil, fmt.Errorf("no cells to embed")
	}
	dims := len(coords[0])

	if opts.Perplexity <= 0 {
		opts.Perplexity = DefaultPerplexity
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultTSNEIter
	}
	// The perplexity bounds the neighborhood distribution; past n/3 the
	// conditional distributions cannot be fit.
	if limit := float64(n-1) / 3; opts.Perplexity > limit {
		opts.Perplexity = limit
	}

	data := make([]float64, n*dims)
	for i, row := range coords {
		copy(data[i*dims:(i+1)*dims], row)
	}
	x := mat.NewDense(n, dims, data)

	t := tsne.NewTSNE(2, opts.Perplexity, opts.LearningRate, opts.MaxIter, opts.Verbose)
	y := t.EmbedData(x, nil)

	rows, cols := y.Dims()
	if rows != n || cols != 2 {
		return nil, fmt.Errorf("embedding came back %d x %d, want %d x 2", rows, cols, n)
	}

	emb := &expression.Embedding{Name: "tsne", Coords: make([][]float64, n)}
	for i := 0; i < n; i++ {
		emb.Coords[i] = []float64{y.At(i, 0), y.At(i, 1)}
	}

	return emb, nil
}
