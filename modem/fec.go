// Package modem implements the adaptive modem: Reed-Solomon FEC with a
// block interleaver, modulation selection driven by an SNR estimate,
// and octet<->sample conversion.
package modem

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// DefaultRedundancy is the fraction of a codeword reserved for parity
// shards when the caller doesn't pin down explicit (n,k).
const DefaultRedundancy = 0.25

// ErrFecUnrecoverable is returned when RS decode cannot reconstruct the
// original data from the shards it was given.
var ErrFecUnrecoverable = errors.New("modem: FEC unrecoverable")

// FEC wraps a Reed-Solomon (n,k) codec over GF(2^8). k is the number of
// data shards, n-k the number of parity shards.
type FEC struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// NewFEC builds an RS(n,k) codec. If parityShards is 0, it is derived
// from dataShards using DefaultRedundancy (rounded up, minimum 1).
func NewFEC(dataShards, parityShards int) (*FEC, error) {
	if dataShards <= 0 {
		return nil, fmt.Errorf("modem: dataShards must be positive, got %d", dataShards)
	}
	if parityShards == 0 {
		parityShards = parityShardsFor(dataShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("modem: building RS(%d,%d): %w", dataShards+parityShards, dataShards, err)
	}
	return &FEC{dataShards: dataShards, parityShards: parityShards, enc: enc}, nil
}

func parityShardsFor(dataShards int) int {
	p := int(float64(dataShards)*DefaultRedundancy/(1-DefaultRedundancy) + 0.999)
	if p < 1 {
		p = 1
	}
	return p
}

// ShardSize is the per-shard byte length RS needs for a message of the
// given length under this FEC's data-shard count.
func (f *FEC) ShardSize(messageLen int) int {
	size := messageLen / f.dataShards
	if messageLen%f.dataShards != 0 {
		size++
	}
	return size
}

// Encode splits data into f.dataShards data shards of equal size (the
// last zero-padded) and computes f.parityShards parity shards,
// returning all shards as one slice in data-then-parity order along
// with the shard size.
func (f *FEC) Encode(data []byte) (shards [][]byte, shardSize int) {
	shardSize = f.ShardSize(len(data))
	total := f.dataShards + f.parityShards
	shards = make([][]byte, total)
	for i := range shards {
		shards[i] = make([]byte, shardSize)
	}
	for i, b := range data {
		shards[i/shardSize][i%shardSize] = b
	}
	// Encode panics only on shard-shape mismatches we've just
	// guaranteed above, so an error here indicates a library misuse,
	// not a data-dependent failure.
	_ = f.enc.Encode(shards)
	return shards, shardSize
}

// Decode reconstructs the original message from possibly-incomplete
// shards (nil entries mark erasures/corrupted shards the caller
// dropped) and the original message length.
func (f *FEC) Decode(shards [][]byte, messageLen int) ([]byte, error) {
	ok, err := f.enc.Verify(shards)
	if err != nil || !ok {
		if rerr := f.enc.Reconstruct(shards); rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFecUnrecoverable, rerr)
		}
	}
	out := make([]byte, 0, messageLen)
	for _, s := range shards[:f.dataShards] {
		out = append(out, s...)
		if len(out) >= messageLen {
			break
		}
	}
	if len(out) < messageLen {
		return nil, ErrFecUnrecoverable
	}
	return out[:messageLen], nil
}
