package router

import (
	"math"
	"slices"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

type vector map[string]float64

// index is a TF-IDF model over the descriptive text of one skill set.
type index struct {
	key  string
	n    int
	df   map[string]int
	vecs map[string]vector
	text map[string]string
}

func indexKey(ms []spec.SkillManifest) string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)
	return strings.Join(ids, "\x00")
}

func buildIndex(ms []spec.SkillManifest) *index {
	ix := &index{
		key:  indexKey(ms),
		n:    len(ms),
		df:   map[string]int{},
		vecs: make(map[string]vector, len(ms)),
		text: make(map[string]string, len(ms)),
	}
	docs := make(map[string][]string, len(ms))
	for _, m := range ms {
		text := m.Text()
		toks := Tokenize(text)
		docs[m.ID] = toks
		ix.text[m.ID] = strings.ToLower(text)
		seen := map[string]struct{}{}
		for _, t := range toks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			ix.df[t]++
		}
	}
	for id, toks := range docs {
		ix.vecs[id] = ix.vectorize(toks)
	}
	return ix
}

func (ix *index) idf(tok string) float64 {
	return math.Log(float64(ix.n+1)/float64(ix.df[tok]+1)) + 1
}

// vectorize returns the L2-normalized tf-idf vector of toks.
func (ix *index) vectorize(toks []string) vector {
	tf := map[string]float64{}
	for _, t := range toks {
		tf[t]++
	}
	v := make(vector, len(tf))
	var norm float64
	for t, c := range tf {
		w := c * ix.idf(t)
		v[t] = w
		norm += w * w
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for t := range v {
		v[t] /= norm
	}
	return v
}

func cosine(a, b vector) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for t, w := range a {
		dot += w * b[t]
	}
	return dot
}
