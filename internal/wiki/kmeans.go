package wiki

import "math/rand"

// clusterSeed fixes K-means' initial centroid sampling so clustering is
// reproducible across wiki runs over identical chunk sets (§4.13 step 3).
const clusterSeed = 42

const maxIterations = 50

// kmeansResult is the outcome of clustering one run's chunk embeddings.
type kmeansResult struct {
	// Assignment[i] is the cluster index of vectors[i].
	Assignment []int
	Centroids  [][]float64
}

// kmeans clusters vectors into k groups using Lloyd's algorithm with
// deterministic centroid initialization (a fixed-seed shuffle of the vectors,
// see initCentroids).
func kmeans(vectors [][]float32, k int) kmeansResult {
	n := len(vectors)
	if k > n {
		k = n
	}
	if k <= 0 {
		return kmeansResult{}
	}

	dim := len(vectors[0])
	centroids := initCentroids(vectors, k)
	assignment := make([]int, n)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, sqDist(v, centroids[0])
			for c := 1; c < k; c++ {
				if d := sqDist(v, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep the previous centroid for an empty cluster
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	return kmeansResult{Assignment: assignment, Centroids: centroids}
}

// initCentroids seeds k centroids via a fixed-seed shuffle of vector
// indices rather than the first k vectors, so clusters aren't biased toward
// whatever document happened to be chunked first.
func initCentroids(vectors [][]float32, k int) [][]float64 {
	n := len(vectors)
	order := rand.New(rand.NewSource(clusterSeed)).Perm(n)

	centroids := make([][]float64, k)
	for c := 0; c < k; c++ {
		v := vectors[order[c]]
		centroid := make([]float64, len(v))
		for d, x := range v {
			centroid[d] = float64(x)
		}
		centroids[c] = centroid
	}
	return centroids
}

func sqDist(v []float32, c []float64) float64 {
	var sum float64
	for d := range v {
		diff := float64(v[d]) - c[d]
		sum += diff * diff
	}
	return sum
}

// representatives returns up to maxReps indices (into vectors) of the
// points in cluster c nearest its centroid, for naming-prompt sampling.
func representatives(vectors [][]float32, result kmeansResult, c, maxReps int) []int {
	type scored struct {
		idx  int
		dist float64
	}
	var members []scored
	for i, assignedTo := range result.Assignment {
		if assignedTo == c {
			members = append(members, scored{idx: i, dist: sqDist(vectors[i], result.Centroids[c])})
		}
	}
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].dist < members[j-1].dist; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
	if len(members) > maxReps {
		members = members[:maxReps]
	}
	out := make([]int, len(members))
	for i, m := range members {
		out[i] = m.idx
	}
	return out
}
