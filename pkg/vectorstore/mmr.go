package vectorstore

import (
	"math"

	"ragchat/pkg/domain"
)

// defaultLambda balances query relevance against diversity in MMR.
const defaultLambda = 0.5

// mmrSelect picks k chunks by maximal marginal relevance: each round it
// takes the candidate with the best blend of similarity to the query and
// dissimilarity to everything already selected.
func mmrSelect(query []float32, candidates []domain.Chunk, k int, lambda float64) []domain.Chunk {
	if k <= 0 || len(candidates) == 0 {
		return []domain.Chunk{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	querySims := make([]float64, len(candidates))
	for i, c := range candidates {
		querySims[i] = cosineSimilarity(query, c.Embedding)
	}

	selected := make([]int, 0, k)
	taken := make([]bool, len(candidates))

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selected {
				if sim := cosineSimilarity(candidates[i].Embedding, candidates[j].Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*querySims[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, bestIdx)
		taken[bestIdx] = true
	}

	out := make([]domain.Chunk, 0, len(selected))
	for _, i := range selected {
		out = append(out, candidates[i])
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
