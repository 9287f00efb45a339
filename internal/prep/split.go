package prep

import (
	"math/rand"
	"sort"
)

// Partition holds row indices for the three disjoint subsets.
type Partition struct {
	Train      []int
	Validation []int
	Test       []int
}

// Len is the number of rows covered by the partition.
func (p Partition) Len() int { return len(p.Train) + len(p.Validation) + len(p.Test) }

// 60/20/20 expressed in fifths so allocation stays in integers.
var splitWeights = [3]int{3, 1, 1}

const weightTotal = 5

// Split assigns rows 0..n-1 to train/validation/test in a 60/20/20 ratio.
// When strata is non-nil (len n) each class is allocated independently with
// largest remainders, so every subset's per-class count is within one row of
// its ideal share. The result depends only on n, strata and seed.
func Split(n int, strata []string, seed int64) Partition {
	rng := rand.New(rand.NewSource(seed))
	groups := [][]int{seq(n)}
	if strata != nil {
		groups = groupByClass(strata)
	}
	var p Partition
	for _, g := range groups {
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		counts := allocate(len(g))
		p.Train = append(p.Train, g[:counts[0]]...)
		p.Validation = append(p.Validation, g[counts[0]:counts[0]+counts[1]]...)
		p.Test = append(p.Test, g[counts[0]+counts[1]:]...)
	}
	sort.Ints(p.Train)
	sort.Ints(p.Validation)
	sort.Ints(p.Test)
	return p
}

// allocate splits m rows across the three subsets by largest remainder.
// Ties go to the earlier subset.
func allocate(m int) [3]int {
	var counts, rem [3]int
	left := m
	for i, w := range splitWeights {
		counts[i] = m * w / weightTotal
		rem[i] = m * w % weightTotal
		left -= counts[i]
	}
	order := []int{0, 1, 2}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })
	for i := 0; i < left; i++ {
		counts[order[i]]++
	}
	return counts
}

// groupByClass returns row indices per class, classes in sorted order.
func groupByClass(labels []string) [][]int {
	byClass := map[string][]int{}
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	out := make([][]int, len(classes))
	for i, c := range classes {
		out[i] = byClass[c]
	}
	return out
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
