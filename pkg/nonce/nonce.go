// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Package nonce implements LISP nonce generation, the per-request
// retransmission history track, and the pending-request table that
// correlates inbound replies with outbound requests (spec §4.E).
package nonce

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
)

// Generator produces non-zero 64-bit nonces. Nonce 0 is reserved for
// plain (non-encapsulated) Map-Registers per spec §4.E, so New never
// returns it.
type Generator struct {
	seed    uint64
	counter atomic.Uint64
}

// NewGenerator seeds a Generator from crypto/rand, standing in for the
// "process_seed" input to spec's nonce hash; New then folds in a
// monotonically increasing counter so repeated calls never collide
// within a process lifetime.
func NewGenerator() *Generator {
	var seedBytes [8]byte
	_, _ = rand.Read(seedBytes[:])
	return &Generator{seed: binary.BigEndian.Uint64(seedBytes[:])}
}

// New returns the next nonce, guaranteed non-zero.
func (g *Generator) New() uint64 {
	for {
		c := g.counter.Add(1)
		n := mix(g.seed, c)
		if n != 0 {
			return n
		}
	}
}

// mix folds seed and counter into a single 64-bit value using a
// splitmix64-style finalizer, giving good avalanche without requiring a
// dedicated hashing dependency for eight bytes of output.
func mix(seed, counter uint64) uint64 {
	z := seed + counter*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
