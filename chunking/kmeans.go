package chunking

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// kmeans clusters points into at most k groups with k-means++ seeding and
// Lloyd iterations. It returns one label per point. Labels are renumbered in
// order of first appearance and empty clusters are dropped, so the number of
// distinct labels may be smaller than k.
func kmeans(points [][]float64, k, maxIter int, seed int64) []int {
	n := len(points)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}
	k = min(k, distinctPoints(points), n)
	if k <= 1 {
		return labels
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	centroids := seedCentroids(points, k, rng)

	for i := range labels {
		labels[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		updateCentroids(points, labels, centroids)
	}
	return relabel(labels)
}

func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(len(points))]))
	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := sqDist(p, centroids[nearest(p, centroids)])
			dist[i] = d
			total += d
		}
		if total == 0 {
			break
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 && d > 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}
	return centroids
}

func updateCentroids(points [][]float64, labels []int, centroids [][]float64) {
	dim := len(points[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for j, v := range p {
			sums[c][j] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue // keep the previous centroid
		}
		for j := range sums[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func relabel(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out
}

func distinctPoints(points [][]float64) int {
	seen := make(map[string]struct{}, len(points))
	var b strings.Builder
	for _, p := range points {
		b.Reset()
		for _, v := range p {
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			b.WriteByte(',')
		}
		seen[b.String()] = struct{}{}
	}
	return len(seen)
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
