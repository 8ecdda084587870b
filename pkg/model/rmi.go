package model

import (
	"github.com/slopedb/slope/pkg/buffer"
)

// RMI is the two-stage recursive model used by the root: a first-stage
// linear model routes a key to one of the second-stage submodels, which
// predicts the final position over the boundary-key array.
//
// Training widens the second stage until the maximum error drops under
// the requested bound or the next doubling would blow the memory
// budget, whichever comes first.
type RMI struct {
	first  *Linear
	second []*Linear
	keyN   int
	maxErr int
}

// TrainRMI trains a two-stage model over the sorted keys
func TrainRMI(keys []buffer.Key, errBound int, memoryBudget int64) *RMI {
	n := len(keys)

	width := 1
	for {
		r := trainRMIWidth(keys, width)
		if r.maxErr <= errBound {
			return r
		}
		next := width * 2
		if next > n || rmiSizeBytes(next) > memoryBudget {
			return r
		}
		width = next
	}
}

func trainRMIWidth(keys []buffer.Key, width int) *RMI {
	n := len(keys)
	r := &RMI{
		first:  TrainLinear(keys),
		second: make([]*Linear, width),
		keyN:   n,
	}

	if width == 1 {
		r.second[0] = r.first
		r.maxErr = r.first.MaxError()
		return r
	}

	// Partition the keys by first-stage assignment, then fit each
	// submodel over its partition against global positions.
	begin := 0
	for j := 0; j < width; j++ {
		end := begin
		for end < n && r.submodelFor(keys[end]) == j {
			end++
		}
		r.second[j] = trainRange(keys[begin:end], begin)
		begin = end
	}

	for i, k := range keys {
		j := r.submodelFor(k)
		p := r.second[j].Predict(k)
		diff := p - i
		if diff < 0 {
			diff = -diff
		}
		if diff > r.maxErr {
			r.maxErr = diff
		}
	}

	return r
}

// submodelFor maps a key to a second-stage index. Monotonic in the key,
// so partitions are contiguous key ranges.
func (r *RMI) submodelFor(key buffer.Key) int {
	width := len(r.second)
	if r.keyN == 0 || width <= 1 {
		return 0
	}
	j := r.first.Predict(key) * width / r.keyN
	if j < 0 {
		return 0
	}
	if j >= width {
		return width - 1
	}
	return j
}

// Predict returns the approximate position of the key
func (r *RMI) Predict(key buffer.Key) int {
	return r.second[r.submodelFor(key)].Predict(key)
}

// MaxError returns the maximum observed prediction error over the
// training keys.
func (r *RMI) MaxError() int {
	return r.maxErr
}

// Window returns the inclusive probe bounds [lo, hi] for a prediction
// against an array of length n.
func (r *RMI) Window(pos, n int) (int, int) {
	if n == 0 {
		return 0, -1
	}
	lo := pos - r.maxErr
	if lo < 0 {
		lo = 0
	}
	hi := pos + r.maxErr
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

// SecondStageModels returns the width of the second stage
func (r *RMI) SecondStageModels() int {
	return len(r.second)
}

// SizeBytes returns the in-memory footprint of the model
func (r *RMI) SizeBytes() int64 {
	return rmiSizeBytes(len(r.second))
}

func rmiSizeBytes(width int) int64 {
	return linearSizeBytes * int64(1+width)
}
