// Package filter implements the fast incompressibility heuristic used to
// skip hopeless payloads before spending a compression call on them.
package filter

import "math"

// sampleCap bounds how many bytes the entropy histogram inspects, so the
// heuristic stays O(1) relative to value size for large values.
const sampleCap = 8192

// entropyThreshold is the Shannon entropy (bits/byte) above which a value
// is treated as already-dense (ciphertext, pre-compressed media, random
// ids) and not worth attempting to compress.
const entropyThreshold = 7.5

// Incompressible reports whether data looks too dense to benefit from
// compression, using a byte-histogram entropy estimate over a bounded
// prefix of the value.
func Incompressible(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > sampleCap {
		sample = sample[:sampleCap]
	}

	var histogram [256]int
	for _, b := range sample {
		histogram[b]++
	}

	n := float64(len(sample))
	var entropy float64
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}

	return entropy >= entropyThreshold
}
