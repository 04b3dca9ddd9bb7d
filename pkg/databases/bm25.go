package databases

import "math"

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Corpus holds the term statistics for one scored candidate set.
type bm25Corpus struct {
	docs   []map[string]int
	lens   []int
	df     map[string]int
	avgLen float64
}

func newBM25(docTokens [][]string) *bm25Corpus {
	c := &bm25Corpus{
		docs: make([]map[string]int, len(docTokens)),
		lens: make([]int, len(docTokens)),
		df:   make(map[string]int),
	}

	total := 0
	for i, tokens := range docTokens {
		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		c.docs[i] = freq
		c.lens[i] = len(tokens)
		total += len(tokens)
		for tok := range freq {
			c.df[tok]++
		}
	}
	if len(docTokens) > 0 {
		c.avgLen = float64(total) / float64(len(docTokens))
	}
	return c
}

// score computes the Okapi BM25 score of document i against the query.
func (c *bm25Corpus) score(queryTokens []string, i int) float64 {
	if i < 0 || i >= len(c.docs) || c.avgLen == 0 {
		return 0
	}

	n := float64(len(c.docs))
	docLen := float64(c.lens[i])
	var score float64

	for _, tok := range queryTokens {
		tf := float64(c.docs[i][tok])
		if tf == 0 {
			continue
		}
		df := float64(c.df[tok])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*docLen/c.avgLen))
	}
	return score
}
