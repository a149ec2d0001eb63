// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package random provides the frame-scoped deterministic random source.
//
// Every frame begins with BeginFrame(seed). Draws before the first
// BeginFrame of a session fail with ErrUnseeded and produce no value.
// Given the same seed, the sequence of draws is identical.
package random

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrUnseeded is returned when a draw happens before BeginFrame.
var ErrUnseeded = errors.New("unseeded randomness: draw before begin_frame")

// FrameSeed derives the deterministic seed for a frame number.
func FrameSeed(frame int64) uint64 {
	return uint64(frame+1) * 1000
}

// Source is a per-frame seeded PRNG.
//
// Thread Safety: not safe for concurrent use. It is owned by the frame
// loop goroutine.
type Source struct {
	rng    *rand.Rand
	seed   uint64
	draws  int64
	seeded bool
}

// New creates an unseeded Source.
func New() *Source {
	return &Source{}
}

// BeginFrame resets the generator to seed and zeroes the draw counter.
func (s *Source) BeginFrame(seed uint64) {
	s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	s.seed = seed
	s.draws = 0
	s.seeded = true
}

// Reset returns the source to the unseeded state.
func (s *Source) Reset() {
	*s = Source{}
}

// Seeded reports whether BeginFrame has been called.
func (s *Source) Seeded() bool { return s.seeded }

// Seed returns the seed of the current frame.
func (s *Source) Seed() uint64 { return s.seed }

// Draws returns the number of draws since the last BeginFrame.
func (s *Source) Draws() int64 { return s.draws }

// Float64 draws a value in [0, 1).
func (s *Source) Float64() (float64, error) {
	if !s.seeded {
		return 0, ErrUnseeded
	}
	s.draws++
	return s.rng.Float64(), nil
}

// Intn draws a value in [0, n). n must be positive.
func (s *Source) Intn(n int) (int, error) {
	if !s.seeded {
		return 0, ErrUnseeded
	}
	if n <= 0 {
		return 0, fmt.Errorf("intn: invalid bound %d", n)
	}
	s.draws++
	return s.rng.IntN(n), nil
}

// Rand mirrors the host convention: max <= 0 draws a float in [0, 1),
// otherwise an integer in [0, max) returned as float64.
func (s *Source) Rand(max int) (float64, error) {
	if max <= 0 {
		return s.Float64()
	}
	v, err := s.Intn(max)
	return float64(v), err
}
