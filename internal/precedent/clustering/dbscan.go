package clustering

import (
	"math"

	dErrors "accord/pkg/domain-errors"
)

// Noise labels points that belong to no cluster.
const Noise = -1

const unvisited = -2

// distanceSlack absorbs rounding so identical vectors stay neighbours at eps 0.
const distanceSlack = 1e-12

// DensityClusterer assigns a cluster label, or Noise, to every vector.
type DensityClusterer interface {
	Fit(vectors [][]float64, eps float64, minSamples int) ([]int, error)
}

// DBSCAN is density-based clustering over cosine distance. A point is a core
// point when at least minSamples points (itself included) lie within eps.
// Labels are assigned in order of the first core point reached, so the
// result is deterministic for a given input order.
type DBSCAN struct{}

func (DBSCAN) Fit(vectors [][]float64, eps float64, minSamples int) ([]int, error) {
	if minSamples < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "min_samples must be at least 1")
	}
	if eps < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidConfiguration, "eps must not be negative")
	}
	n := len(vectors)
	if n == 0 {
		return []int{}, nil
	}
	dims := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dims {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "vectors must share one dimension")
		}
	}

	neighbours := make([][]int, n)
	for i := 0; i < n; i++ {
		neighbours[i] = append(neighbours[i], i)
		for j := i + 1; j < n; j++ {
			if CosineDistance(vectors[i], vectors[j]) <= eps+distanceSlack {
				neighbours[i] = append(neighbours[i], j)
				neighbours[j] = append(neighbours[j], i)
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbours[i]) < minSamples {
			labels[i] = Noise
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), neighbours[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == Noise {
				// border point: joins the cluster but does not expand it
				labels[j] = cluster
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if len(neighbours[j]) >= minSamples {
				queue = append(queue, neighbours[j]...)
			}
		}
		cluster++
	}
	return labels, nil
}

// CosineDistance is 1 - cos(a, b), clamped to [0, 2]. A zero vector is at
// distance 1 from everything.
func CosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return math.Min(2, math.Max(0, d))
}
