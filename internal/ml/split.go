package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// Fold is one cross-validation split of row positions.
type Fold struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles n row positions with seed and holds out
// ceil(testSize*n) of them.
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	nTest := int(math.Ceil(testSize * float64(n)))
	if n < 2 || nTest < 1 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot split %d rows with test size %.2f", n, testSize)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// KFold partitions n rows into k contiguous folds; the first n%k folds get
// one extra row. With shuffle the positions are permuted first.
func KFold(n, k int, shuffle bool, seed int64) ([]Fold, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("cannot make %d folds out of %d rows", k, n)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if shuffle {
		idx = rand.New(rand.NewSource(seed)).Perm(n)
	}
	folds := make([]Fold, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		test := append([]int{}, idx[start:start+size]...)
		train := make([]int, 0, n-size)
		train = append(train, idx[:start]...)
		train = append(train, idx[start+size:]...)
		folds = append(folds, Fold{Train: train, Test: test})
		start += size
	}
	return folds, nil
}

// StratifiedKFold assigns rows to k folds so each fold keeps the class
// proportions of labels. Classes are taken in order of first appearance and
// rows keep their order, so the split is deterministic. It fails when k
// exceeds the row count or every class has fewer than k members.
func StratifiedKFold(labels []string, k int) ([]Fold, error) {
	n := len(labels)
	if k < 2 || k > n {
		return nil, fmt.Errorf("cannot make %d folds out of %d rows", k, n)
	}
	code := map[string]int{}
	enc := make([]int, n)
	for i, l := range labels {
		c, ok := code[l]
		if !ok {
			c = len(code)
			code[l] = c
		}
		enc[i] = c
	}
	nc := len(code)
	counts := make([]int, nc)
	for _, c := range enc {
		counts[c]++
	}
	fits := false
	for _, c := range counts {
		if c >= k {
			fits = true
			break
		}
	}
	if !fits {
		return nil, fmt.Errorf("n_splits=%d cannot be greater than the number of members in each class", k)
	}

	// Deal the class-sorted rows round robin, then give each class its
	// per-fold quota in fold order.
	order := make([]int, 0, n)
	for c := 0; c < nc; c++ {
		for i := 0; i < counts[c]; i++ {
			order = append(order, c)
		}
	}
	alloc := make([][]int, k)
	for f := 0; f < k; f++ {
		alloc[f] = make([]int, nc)
		for i := f; i < n; i += k {
			alloc[f][order[i]]++
		}
	}
	testFold := make([]int, n)
	for c := 0; c < nc; c++ {
		var seq []int
		for f := 0; f < k; f++ {
			for j := 0; j < alloc[f][c]; j++ {
				seq = append(seq, f)
			}
		}
		pos := 0
		for i, e := range enc {
			if e == c {
				testFold[i] = seq[pos]
				pos++
			}
		}
	}
	folds := make([]Fold, k)
	for i, f := range testFold {
		for g := range folds {
			if g == f {
				folds[g].Test = append(folds[g].Test, i)
			} else {
				folds[g].Train = append(folds[g].Train, i)
			}
		}
	}
	return folds, nil
}
