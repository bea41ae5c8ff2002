package rng

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// Seeded implements ports.RNGPort with math/rand sources whose seeds are
// derived from the stream keys, so equal keys reproduce equal draws.
type Seeded struct{}

// NewSeeded creates a seeded RNG adapter
func NewSeeded() *Seeded {
	return &Seeded{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (s *Seeded) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(deriveSeed(seed, name))), nil
}

// Stream creates a deterministic stream for one unit of work inside a run
func (s *Seeded) Stream(ctx context.Context, runID, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(deriveSeed(baseSeed, runID, stageName, key))), nil
}

// deriveSeed hashes the parts with FNV-1a (NUL separated so ("ab","c") and
// ("a","bc") differ) and finishes with a splitmix64 mix of the base seed.
func deriveSeed(base int64, parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return int64(splitmix64(h.Sum64() ^ uint64(base)))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
