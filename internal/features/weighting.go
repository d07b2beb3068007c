package features

import (
	"fmt"
	"math"
	"strings"
)

// Weighting assigns a contribution to nodes by hop distance from the seed.
type Weighting interface {
	Name() string
	Weight(depth int) float64
}

// Uniform weights every depth equally.
type Uniform struct{}

// Name implements Weighting.
func (Uniform) Name() string { return "uniform" }

// Weight implements Weighting.
func (Uniform) Weight(depth int) float64 {
	if depth < 1 {
		return 0
	}
	return 1
}

// Inverse weights a node at depth d by 1/d.
type Inverse struct{}

// Name implements Weighting.
func (Inverse) Name() string { return "inverse" }

// Weight implements Weighting.
func (Inverse) Weight(depth int) float64 {
	if depth < 1 {
		return 0
	}
	return 1 / float64(depth)
}

// Exponential weights a node at depth d by Decay^(d-1).
type Exponential struct {
	Decay float64
}

// Name implements Weighting.
func (Exponential) Name() string { return "exponential" }

// Weight implements Weighting.
func (e Exponential) Weight(depth int) float64 {
	if depth < 1 {
		return 0
	}
	return math.Pow(e.Decay, float64(depth-1))
}

// ParseWeighting resolves a configured strategy name.
func ParseWeighting(name string, decay float64) (Weighting, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "inverse":
		return Inverse{}, nil
	case "uniform":
		return Uniform{}, nil
	case "exponential":
		if decay <= 0 || decay > 1 {
			return nil, fmt.Errorf("exponential decay must be in (0, 1], got %v", decay)
		}
		return Exponential{Decay: decay}, nil
	default:
		return nil, fmt.Errorf("unknown weighting %q", name)
	}
}
