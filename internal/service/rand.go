package service

import (
	"hash/fnv"
	"math/rand"
	"time"
)

// RandFactory creates the random source for one invocation. Sources are never shared between
// invocations, so concurrent runs for different owners do not contend on one generator.
type RandFactory func(ownerID string) *rand.Rand

// TimeSeededRand returns a factory seeded from the wall clock (default exploratory behaviour).
func TimeSeededRand() RandFactory {
	return func(string) *rand.Rand {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// SeededRand returns a factory that always yields a generator seeded with seed.
func SeededRand(seed int64) RandFactory {
	return func(string) *rand.Rand {
		return rand.New(rand.NewSource(seed))
	}
}

// OwnerSeededRand returns a factory seeded from the owner id, so runs for one owner are reproducible.
func OwnerSeededRand() RandFactory {
	return func(ownerID string) *rand.Rand {
		return rand.New(rand.NewSource(ownerSeed(ownerID)))
	}
}

// ownerSeed derives a stable seed from an owner id (FNV-64a).
func ownerSeed(ownerID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ownerID))

	return int64(h.Sum64() & (1<<63 - 1))
}
