package farm

import (
	"math"
	"time"
)

// Kind selects one of the farm's resource pools.
type Kind string

const (
	// Food is the food resource pool.
	Food Kind = "food"
	// Water is the water resource pool.
	Water Kind = "water"
)

// RejectReasonSelling is returned by Submit while the selling lockout is active.
const RejectReasonSelling = "FarmSelling"

// state is the authoritative farm state. It is owned exclusively by Ledger and
// must only be touched under the ledger mutex.
type state struct {
	accumulatedFood  float64
	accumulatedWater float64
	totalConsumed    float64
	farmSize         float64
	coefficient      float64
	starveRounds     int
	thirstRounds     int
	selling          bool
	sellingUntil     time.Time
}

// reset restores every field to its default. It is the only operation that
// decreases farmSize or totalConsumed.
func (s *state) reset(baseCoefficient float64) {
	*s = state{coefficient: baseCoefficient}
}

func (s *state) balance(kind Kind) float64 {
	if kind == Water {
		return s.accumulatedWater
	}
	return s.accumulatedFood
}

func (s *state) addBalance(kind Kind, delta float64) {
	if kind == Water {
		s.accumulatedWater += delta
		return
	}
	s.accumulatedFood += delta
}

func (s *state) failRounds(kind Kind) int {
	if kind == Water {
		return s.thirstRounds
	}
	return s.starveRounds
}

func (s *state) setFailRounds(kind Kind, rounds int) {
	if kind == Water {
		s.thirstRounds = rounds
		return
	}
	s.starveRounds = rounds
}

// recomputeDerived refreshes farmSize and the consumption coefficient from
// totalConsumed.
func (s *state) recomputeDerived(baseRate, growthRate, maxCoefficient float64) {
	s.farmSize = math.Log10(s.totalConsumed + 1)
	coefficient := baseRate + growthRate*s.farmSize
	if coefficient < baseRate {
		coefficient = baseRate
	}
	if coefficient > maxCoefficient {
		coefficient = maxCoefficient
	}
	s.coefficient = coefficient
}
