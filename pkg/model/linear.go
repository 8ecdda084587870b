// Package model provides the trained approximators that map a key to a
// position in a sorted array. A model's prediction is guaranteed to be
// within its reported maximum error of the true position, so probing
// only ever binary-searches inside that window.
package model

import (
	"math"

	"github.com/slopedb/slope/pkg/buffer"
)

// linearSizeBytes is the in-memory footprint of one linear model
const linearSizeBytes = 8 + 8 + 8

// Linear is a least-squares fit of key -> position over one sorted key
// slice, with the maximum observed error computed at training time.
type Linear struct {
	slope     float64
	intercept float64
	maxErr    int
}

// TrainLinear fits a linear model over the sorted keys, predicting each
// key's index in the slice.
func TrainLinear(keys []buffer.Key) *Linear {
	return trainRange(keys, 0)
}

// trainRange fits a model predicting base+i for keys[i]. Used by the RMI
// second stage, whose submodels predict global positions from key
// subranges.
func trainRange(keys []buffer.Key, base int) *Linear {
	m := &Linear{}
	n := len(keys)
	if n == 0 {
		m.intercept = float64(base)
		return m
	}
	if n == 1 {
		m.intercept = float64(base)
		return m
	}

	// Shift x values near zero before accumulating; raw uint64 keys are
	// large enough to lose the slope entirely in float64 sums.
	x0 := float64(keys[0])
	var sumX, sumY, sumXY, sumXX float64
	for i, k := range keys {
		x := float64(k) - x0
		y := float64(base + i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		// Degenerate key distribution: fall back to a constant at the
		// mean position, the error bound still covers every slot.
		m.intercept = sumY / fn
	} else {
		m.slope = (fn*sumXY - sumX*sumY) / denom
		m.intercept = (sumY - m.slope*sumX) / fn
	}
	// Undo the shift so Predict can take raw keys
	m.intercept -= m.slope * x0

	for i, k := range keys {
		predicted := m.predictFloat(k)
		diff := math.Abs(predicted - float64(base+i))
		if e := int(math.Ceil(diff)); e > m.maxErr {
			m.maxErr = e
		}
	}

	return m
}

func (m *Linear) predictFloat(key buffer.Key) float64 {
	return m.slope*float64(key) + m.intercept
}

// Predict returns the approximate position of the key. The true position
// of a trained key is within MaxError of the result.
func (m *Linear) Predict(key buffer.Key) int {
	p := int(math.Round(m.predictFloat(key)))
	if p < 0 {
		return 0
	}
	return p
}

// MaxError returns the maximum observed prediction error over the
// training keys.
func (m *Linear) MaxError() int {
	return m.maxErr
}

// Window returns the inclusive probe bounds [lo, hi] for a prediction
// against an array of length n.
func (m *Linear) Window(pos, n int) (int, int) {
	if n == 0 {
		return 0, -1
	}
	lo := pos - m.maxErr
	if lo < 0 {
		lo = 0
	}
	hi := pos + m.maxErr
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

// SizeBytes returns the in-memory footprint of the model
func (m *Linear) SizeBytes() int64 {
	return linearSizeBytes
}
