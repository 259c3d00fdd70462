package planner

import (
	"math/rand/v2"

	"github.com/foxzi/linkfleet/internal/models"
)

// Rotation picks the anchor text or keyword for the i-th assignment of a plan
type Rotation interface {
	Choose(i int, options []string) string
}

// RoundRobin cycles through the options using the plan-wide assignment index
type RoundRobin struct{}

func (RoundRobin) Choose(i int, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[i%len(options)]
}

// Random picks uniformly from the options
type Random struct {
	rng *rand.Rand
}

func (r Random) Choose(_ int, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[r.rng.IntN(len(options))]
}

// rotationFor returns the rotation for a campaign strategy. Manual campaigns
// rotate through the lists in the order the operator gave them.
func rotationFor(strategy string, rng *rand.Rand) Rotation {
	switch strategy {
	case models.RotationRoundRobin, models.RotationManual:
		return RoundRobin{}
	default:
		return Random{rng: rng}
	}
}
