package forest

import (
	"cmp"
	"math/rand"
	"slices"
)

const leaf = -1

type node struct {
	feature   int
	threshold float64
	left      int32
	right     int32
	value     []float64 // class distribution, or a single mean for regression
}

type tree struct {
	nodes []node
}

// predict walks to the leaf that row x falls into.
func (t *tree) predict(x []float64) []float64 {
	i := int32(0)
	for {
		n := &t.nodes[i]
		if n.feature == leaf {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type pair struct {
	v float64
	i int
}

// grower builds one CART tree on a bootstrap sample.
type grower struct {
	cols    [][]float64 // column-major features
	classes []int       // encoded labels, nil for regression
	k       int         // number of classes
	target  []float64   // regression target, nil for classification
	cfg     Config
	mtry    int
	rng     *rand.Rand

	nodes      []node
	importance []float64
	buf        []pair
	features   []int
}

func newGrower(cols [][]float64, classes []int, k int, target []float64, cfg Config, mtry int, seed int64) *grower {
	p := len(cols)
	feats := make([]int, p)
	for j := range feats {
		feats[j] = j
	}
	return &grower{
		cols:       cols,
		classes:    classes,
		k:          k,
		target:     target,
		cfg:        cfg,
		mtry:       mtry,
		rng:        rand.New(rand.NewSource(seed)),
		importance: make([]float64, p),
		features:   feats,
	}
}

func (g *grower) nrows() int {
	if g.classes != nil {
		return len(g.classes)
	}
	return len(g.target)
}

// grow draws a bootstrap sample and builds the tree.
func (g *grower) grow() *tree {
	n := g.nrows()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = g.rng.Intn(n)
	}
	g.buf = make([]pair, n)
	g.split(idx, 0)
	return &tree{nodes: g.nodes}
}

// split appends the node for idx (and its subtree) and returns its index.
func (g *grower) split(idx []int, depth int) int32 {
	id := int32(len(g.nodes))
	value, impurity := g.summarize(idx)
	g.nodes = append(g.nodes, node{feature: leaf, value: value})

	n := len(idx)
	if impurity <= 1e-12 ||
		n < g.cfg.MinSamplesSplit ||
		n < 2*g.cfg.MinSamplesLeaf ||
		(g.cfg.MaxDepth > 0 && depth >= g.cfg.MaxDepth) {
		return id
	}

	feature, threshold, childImpurity, ok := g.bestSplit(idx)
	if !ok {
		return id
	}
	g.importance[feature] += float64(n)*impurity - childImpurity

	// partition in place: left block then right block
	l := 0
	col := g.cols[feature]
	for r := 0; r < n; r++ {
		if col[idx[r]] <= threshold {
			idx[l], idx[r] = idx[r], idx[l]
			l++
		}
	}
	left := g.split(idx[:l], depth+1)
	right := g.split(idx[l:], depth+1)
	nd := &g.nodes[id]
	nd.feature = feature
	nd.threshold = threshold
	nd.left = left
	nd.right = right
	nd.value = nil
	return id
}

// summarize returns the leaf value and impurity of a node.
func (g *grower) summarize(idx []int) ([]float64, float64) {
	n := float64(len(idx))
	if g.classes != nil {
		dist := make([]float64, g.k)
		for _, i := range idx {
			dist[g.classes[i]]++
		}
		gini := 1.0
		for c := range dist {
			dist[c] /= n
			gini -= dist[c] * dist[c]
		}
		return dist, gini
	}
	var sum, sq float64
	for _, i := range idx {
		v := g.target[i]
		sum += v
		sq += v * v
	}
	mean := sum / n
	return []float64{mean}, max(sq/n-mean*mean, 0)
}

// bestSplit scans mtry random features and returns the split with the lowest
// sample-weighted child impurity (n_left*imp_left + n_right*imp_right).
func (g *grower) bestSplit(idx []int) (feature int, threshold, childImpurity float64, ok bool) {
	n := len(idx)
	minLeaf := g.cfg.MinSamplesLeaf
	best := 0.0

	// partial Fisher-Yates: the first mtry entries are the candidates
	feats := g.features
	for j := 0; j < g.mtry; j++ {
		r := j + g.rng.Intn(len(feats)-j)
		feats[j], feats[r] = feats[r], feats[j]
	}

	buf := g.buf[:n]
	var leftCounts, rightCounts []float64
	if g.classes != nil {
		leftCounts = make([]float64, g.k)
		rightCounts = make([]float64, g.k)
	}

	for _, f := range feats[:g.mtry] {
		col := g.cols[f]
		for k, i := range idx {
			buf[k] = pair{v: col[i], i: i}
		}
		slices.SortFunc(buf, func(a, b pair) int { return cmp.Compare(a.v, b.v) })
		if buf[0].v == buf[n-1].v {
			continue
		}

		if g.classes != nil {
			clear(leftCounts)
			clear(rightCounts)
			for _, p := range buf {
				rightCounts[g.classes[p.i]]++
			}
			for s := 0; s < n-1; s++ {
				c := g.classes[buf[s].i]
				leftCounts[c]++
				rightCounts[c]--
				nl := s + 1
				if buf[s].v == buf[s+1].v || nl < minLeaf || n-nl < minLeaf {
					continue
				}
				imp := weightedGini(leftCounts, float64(nl)) + weightedGini(rightCounts, float64(n-nl))
				if !ok || imp < best {
					best, feature, ok = imp, f, true
					threshold = midpoint(buf[s].v, buf[s+1].v)
				}
			}
			continue
		}

		var totalSum, totalSq float64
		for _, p := range buf {
			v := g.target[p.i]
			totalSum += v
			totalSq += v * v
		}
		var lsum, lsq float64
		for s := 0; s < n-1; s++ {
			v := g.target[buf[s].i]
			lsum += v
			lsq += v * v
			nl := s + 1
			if buf[s].v == buf[s+1].v || nl < minLeaf || n-nl < minLeaf {
				continue
			}
			nr := float64(n - nl)
			rsum, rsq := totalSum-lsum, totalSq-lsq
			imp := (lsq - lsum*lsum/float64(nl)) + (rsq - rsum*rsum/nr)
			if !ok || imp < best {
				best, feature, ok = imp, f, true
				threshold = midpoint(buf[s].v, buf[s+1].v)
			}
		}
	}
	return feature, threshold, best, ok
}

// weightedGini returns n * gini for a node holding counts.
func weightedGini(counts []float64, n float64) float64 {
	var s float64
	for _, c := range counts {
		s += c * c
	}
	return n - s/n
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		return a
	}
	return m
}
