// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"cmp"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
)

// Strategy decides the order in which UTXOs are considered for selection.
type Strategy uint8

const (
	// MinimizeInputs considers the largest UTXOs first so that as few
	// inputs as possible are spent.
	MinimizeInputs Strategy = iota

	// MaximizePrivacy shuffles the UTXOs and then alternates between
	// addresses so that a single transaction links as few of them as
	// possible in a row.
	MaximizePrivacy

	// OldestFirst considers the most confirmed UTXOs first.
	OldestFirst

	// ClosestAmount considers UTXOs whose value is nearest to the target
	// first.
	ClosestAmount
)

// String returns the name of the strategy.
func (s Strategy) String() string {
	switch s {
	case MinimizeInputs:
		return "minimize-inputs"
	case MaximizePrivacy:
		return "maximize-privacy"
	case OldestFirst:
		return "oldest-first"
	case ClosestAmount:
		return "closest-amount"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStrategy returns the strategy named by s.
func ParseStrategy(s string) (Strategy, error) {
	for _, strategy := range []Strategy{
		MinimizeInputs, MaximizePrivacy, OldestFirst, ClosestAmount,
	} {
		if strategy.String() == s {
			return strategy, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// arrange returns a new slice holding the UTXOs in the order the strategy
// considers them. Every ordering except the privacy shuffle is fully
// deterministic, ties are broken on the outpoint.
func (s Strategy) arrange(utxos []Utxo, target btcutil.Amount,
	rng *rand.Rand) ([]Utxo, error) {

	arranged := slices.Clone(utxos)

	switch s {
	case MinimizeInputs:
		slices.SortFunc(arranged, func(a, b Utxo) int {
			if c := cmp.Compare(b.Value, a.Value); c != 0 {
				return c
			}

			return CompareOutPoints(a.OutPoint, b.OutPoint)
		})

	case OldestFirst:
		slices.SortFunc(arranged, func(a, b Utxo) int {
			c := cmp.Compare(b.Confirmations, a.Confirmations)
			if c != 0 {
				return c
			}

			return CompareOutPoints(a.OutPoint, b.OutPoint)
		})

	case ClosestAmount:
		slices.SortFunc(arranged, func(a, b Utxo) int {
			c := cmp.Compare(distance(a.Value, target),
				distance(b.Value, target))
			if c != 0 {
				return c
			}

			return CompareOutPoints(a.OutPoint, b.OutPoint)
		})

	case MaximizePrivacy:
		// Start from a canonical order so the result only depends on
		// the random source.
		slices.SortFunc(arranged, func(a, b Utxo) int {
			return CompareOutPoints(a.OutPoint, b.OutPoint)
		})
		rng.Shuffle(len(arranged), func(i, j int) {
			arranged[i], arranged[j] = arranged[j], arranged[i]
		})
		arranged = roundRobin(arranged)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, s)
	}

	return arranged, nil
}

// distance returns |value - target|.
func distance(value, target btcutil.Amount) btcutil.Amount {
	if value > target {
		return value - target
	}

	return target - value
}

// roundRobin groups the UTXOs by address in order of first appearance and
// then takes one UTXO from each group in turn.
func roundRobin(utxos []Utxo) []Utxo {
	var (
		order  []string
		groups = make(map[string][]Utxo)
	)
	for _, u := range utxos {
		if _, ok := groups[u.Address]; !ok {
			order = append(order, u.Address)
		}
		groups[u.Address] = append(groups[u.Address], u)
	}

	result := make([]Utxo, 0, len(utxos))
	for len(result) < len(utxos) {
		for _, addr := range order {
			group := groups[addr]
			if len(group) == 0 {
				continue
			}

			result = append(result, group[0])
			groups[addr] = group[1:]
		}
	}

	return result
}

// NewRand returns a ChaCha8 generator seeded from the operating system's
// random source.
func NewRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("unable to read random seed: %v", err))
	}

	return rand.New(rand.NewChaCha8(seed))
}
