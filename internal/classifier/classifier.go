// Package classifier turns raw model scores into a normalized probability
// distribution over profile picture categories. The model itself is an
// opaque capability injected at construction; this package owns only the
// numeric post-processing.
package classifier

import (
	"context"
	"fmt"
	"math"
)

// Category is one of the profile picture classes.
type Category string

const (
	CategoryHuman  Category = "human"
	CategoryAvatar Category = "avatar"
	CategoryOther  Category = "other"
	// CategoryNone is reserved for subjects without a photo.
	CategoryNone Category = "none"
)

// Categories lists every class in its fixed, deterministic order. Ties in
// downstream argmax logic resolve in this order.
var Categories = []Category{CategoryHuman, CategoryAvatar, CategoryOther, CategoryNone}

// ModelClassCount is the number of classes the model scores; "none" is
// synthesized, never predicted.
const ModelClassCount = 3

// Distribution maps every category to a probability in [0,1]. For
// classifier-derived distributions the three model classes sum to 1 and
// None is exactly 0; for subjects without a photo None is exactly 1.
type Distribution struct {
	Human  float64 `json:"human"`
	Avatar float64 `json:"avatar"`
	Other  float64 `json:"other"`
	None   float64 `json:"none"`
}

// Get returns the probability for a category.
func (d Distribution) Get(c Category) float64 {
	switch c {
	case CategoryHuman:
		return d.Human
	case CategoryAvatar:
		return d.Avatar
	case CategoryOther:
		return d.Other
	case CategoryNone:
		return d.None
	}
	return 0
}

// Model is the opaque inference capability. Input is a flattened
// [1,224,224,3] float32 tensor; output is one raw score per model class in
// the order [human, avatar, other].
type Model interface {
	Predict(ctx context.Context, input []float32) ([]float32, error)
}

// ToProbabilities applies a numerically stable softmax over the raw model
// scores and places the result into a Distribution with None forced to 0.
func ToProbabilities(raw []float32) (Distribution, error) {
	if len(raw) != ModelClassCount {
		return Distribution{}, fmt.Errorf("expected %d scores, got %d", ModelClassCount, len(raw))
	}

	max := float64(raw[0])
	for _, v := range raw[1:] {
		if float64(v) > max {
			max = float64(v)
		}
	}

	exps := make([]float64, len(raw))
	sum := 0.0
	for i, v := range raw {
		exps[i] = math.Exp(float64(v) - max)
		sum += exps[i]
	}

	return Distribution{
		Human:  exps[0] / sum,
		Avatar: exps[1] / sum,
		Other:  exps[2] / sum,
		None:   0,
	}, nil
}

// NoPhotoDistribution is the synthesized distribution for subjects without
// an available photo.
func NoPhotoDistribution() Distribution {
	return Distribution{None: 1}
}
