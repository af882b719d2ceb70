package pipeline

import (
	"fmt"
	"math"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// aggregateFunc reduces the values observed at one pixel. values never
// contains no-data; an empty slice yields no-data.
type aggregateFunc func(values []float64) float64

func aggregatorFor(a domain.Aggregator) (aggregateFunc, error) {
	switch a {
	case domain.AggregateMean:
		return mean, nil
	case domain.AggregateMode:
		return mode, nil
	default:
		return nil, fmt.Errorf("%w %q", domain.ErrUnknownAggregator, a)
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return domain.NoData
	}
	if len(values) == 1 {
		return values[0]
	}
	return floats.Sum(values) / float64(len(values))
}

// mode returns the most frequent value; ties resolve to the lowest value so
// the result does not depend on image order.
func mode(values []float64) float64 {
	if len(values) == 0 {
		return domain.NoData
	}
	counts := make(map[float64]int, len(values))
	best, bestCount := math.Inf(1), 0
	for _, v := range values {
		counts[v]++
		n := counts[v]
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

// reducePixels applies fn pixelwise across the given layers, skipping no-data.
func reducePixels(layers [][]float64, size int, fn aggregateFunc) []float64 {
	out := make([]float64, size)
	buf := make([]float64, 0, len(layers))
	for i := range size {
		buf = buf[:0]
		for _, layer := range layers {
			if v := layer[i]; !domain.IsNoData(v) {
				buf = append(buf, v)
			}
		}
		out[i] = fn(buf)
	}
	return out
}
