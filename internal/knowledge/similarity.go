package knowledge

import (
	"sort"
	"strings"

	"lowforge/internal/model"
)

// Jaccard returns the token-set Jaccard similarity of two strings:
// |intersection| / |union| over lower-cased whitespace tokens, 0 when
// the union is empty.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// Title similarity dominates description similarity when ranking
// historical solutions against a new request.
const (
	titleWeight       = 0.6
	descriptionWeight = 0.4
)

// Similarity scores a candidate solution against a request:
// (0.6·title_jaccard + 0.4·description_jaccard) × candidate.success_rate.
// The result lies in [0, candidate.SuccessRate].
func Similarity(req *model.Request, candidate *model.Solution) float64 {
	textScore := titleWeight*Jaccard(req.Title, candidate.Title) +
		descriptionWeight*Jaccard(req.Description, candidate.Description)
	return textScore * candidate.SuccessRate
}

// ScoredSolution pairs a candidate with its similarity score.
type ScoredSolution struct {
	Solution   *model.Solution
	Similarity float64
}

// Rank orders candidates by descending similarity to the request. The
// sort is stable: ties keep the store's return order.
func Rank(req *model.Request, candidates []*model.Solution) []ScoredSolution {
	scored := make([]ScoredSolution, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredSolution{Solution: c, Similarity: Similarity(req, c)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored
}
