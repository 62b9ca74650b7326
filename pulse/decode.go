// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pulse

const buckets = 10

type peak struct {
	index int
	count uint8
}

// Threshold returns the tick count separating short pulses from long ones.
//
// The durations are sorted in a 10 bucket histogram spanning [min, max]. The
// two most populated local maxima are taken as the short and long clusters
// and the threshold is the mean of their centers. When the durations do not
// form two clusters the midpoint of the range is returned.
//
// Threshold panics when ticks is empty.
func Threshold(ticks []Ticks) Ticks {
	lo, hi := ticks[0], ticks[0]
	for _, t := range ticks[1:] {
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	span := uint64(hi) - uint64(lo) + 1

	var hist [buckets]uint8
	for _, t := range ticks {
		b := (uint64(t) - uint64(lo)) * buckets / span
		if b >= buckets {
			b = buckets - 1
		}
		hist[b]++
	}

	// A peak is strictly above its left neighbor and strictly above its
	// right neighbor, or the last bucket.
	var peaks [buckets]peak
	np := 0
	var prev uint8
	for i, c := range hist {
		if c > prev && (i == buckets-1 || c > hist[i+1]) {
			peaks[np] = peak{index: i, count: c}
			np++
		}
		prev = c
	}
	if np < 2 {
		return Ticks(uint64(lo) + span/2)
	}

	first, second := peaks[0], peak{index: -1}
	for _, p := range peaks[1:np] {
		if p.count > first.count {
			first, second = p, first
		} else if p.count > second.count {
			second = p
		}
	}

	center := func(i int) uint64 {
		if i == buckets-1 {
			return uint64(hi)
		}
		base := span*uint64(i)/buckets + uint64(lo)
		next := span*uint64(i+1)/buckets + uint64(lo)
		return (base + next) / 2
	}
	return Ticks((center(first.index) + center(second.index)) / 2)
}

// Byte assembles 8 bits, most significant first. A pulse strictly longer
// than threshold is a 1.
func Byte(ticks []Ticks, threshold Ticks) byte {
	var b byte
	for i, t := range ticks[:8] {
		if t > threshold {
			b |= 1 << (7 - i)
		}
	}
	return b
}

// Bytes decodes the frame into 4 payload bytes followed by the checksum byte.
func (f *Frame) Bytes(threshold Ticks) [5]byte {
	var out [5]byte
	for i := range out {
		out[i] = Byte(f[i*8:i*8+8], threshold)
	}
	return out
}

// Long reports whether t classifies as a long pulse.
func Long(t, threshold Ticks) bool {
	return t > threshold
}
