// Package merkle builds deterministic binary merkle trees over a sorted
// set of hashes and produces/verifies inclusion proofs.
//
// Proofs are addressed by the leaf's position
// in the sorted set rather than by ancestor back-pointers: a Tree keeps its
// levels as plain slices, and a Proof carries the leaf's bit-encoded
// position so MakeMerkleTreeFromProof can walk a single spine from leaf to
// root without needing the rest of the tree.
package merkle

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Tree is a full binary tree built by pairwise reduction over a sorted set
// of leaf hashes, duplicating the last leaf at any level with odd
// cardinality.
type Tree struct {
	levels [][]types.Hash // levels[0] = sorted leaves, levels[len-1] = {root}
}

// MakeMerkleTree builds a Tree from an unsorted set of leaf hashes. The
// leaves are sorted lexicographically before reduction, so the root over
// an output/input set never depends on presentation order.
func MakeMerkleTree(leaves []types.Hash) *Tree {
	sorted := make([]types.Hash, len(leaves))
	copy(sorted, leaves)
	types.SortHashes(sorted)

	t := &Tree{levels: [][]types.Hash{sorted}}
	if len(sorted) == 0 {
		t.levels = append(t.levels, []types.Hash{{}})
		return t
	}

	level := sorted
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(append([]types.Hash{}, level...), level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the tree's root hash.
func (t *Tree) Root() types.Hash {
	last := t.levels[len(t.levels)-1]
	return last[0]
}

// Depth returns the number of reduction levels above the leaves: 0 for a
// single-leaf tree, and 1 for an empty tree, whose root level holds the
// zero hash.
func (t *Tree) Depth() int {
	return len(t.levels) - 1
}

// Proof is an inclusion proof for a single leaf. Entries[0] is the leaf
// value being proved; Entries[1:] are its siblings from the bottom of the
// tree to just below the root. PositionInTotalSet records, one bit per
// level starting from the least significant bit, whether the leaf
// (or its running parent) sat on the left (0) or right (1) of its pair at
// that level.
type Proof struct {
	Entries            []types.Hash `json:"entries"`
	PositionInTotalSet uint64       `json:"positionInTotalSet"`
}

// ErrNotFound is returned by MakeProof when the value is absent from the
// tree's leaf set.
var ErrNotFound = fmt.Errorf("merkle: value not found in leaf set")

// MakeProof builds an inclusion proof for value. Fails with ErrNotFound if
// value is not one of the tree's leaves.
func (t *Tree) MakeProof(value types.Hash) (*Proof, error) {
	idx := -1
	leaves := t.levels[0]
	for i, h := range leaves {
		if h == value {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	proof := &Proof{Entries: []types.Hash{value}}
	cur := idx
	var position uint64
	for level := 0; level < t.Depth(); level++ {
		row := t.levels[level]
		// Reconstruct the padded row used to build the next level, so the
		// sibling of a duplicated final leaf is found correctly.
		padded := row
		if len(padded)%2 != 0 {
			padded = append(append([]types.Hash{}, padded...), padded[len(padded)-1])
		}
		siblingIdx := cur ^ 1
		proof.Entries = append(proof.Entries, padded[siblingIdx])
		if cur%2 != 0 {
			position |= 1 << uint(level)
		}
		cur /= 2
	}
	proof.PositionInTotalSet = position
	return proof, nil
}

// MakeMerkleTreeFromProof reconstructs the root implied by a proof, without
// access to the rest of the tree. Callers compare the result to the
// expected root to verify inclusion.
func MakeMerkleTreeFromProof(proof *Proof) (types.Hash, error) {
	if len(proof.Entries) == 0 {
		return types.Hash{}, fmt.Errorf("merkle: empty proof")
	}
	cur := proof.Entries[0]
	for i, sibling := range proof.Entries[1:] {
		onRight := proof.PositionInTotalSet&(1<<uint(i)) != 0
		if onRight {
			cur = crypto.HashConcat(sibling, cur)
		} else {
			cur = crypto.HashConcat(cur, sibling)
		}
	}
	return cur, nil
}

// MerkleRoot is a convenience wrapper returning only the root of the tree
// built over leaves (sorted internally). Returns the zero hash for an
// empty leaf set.
func MerkleRoot(leaves []types.Hash) types.Hash {
	return MakeMerkleTree(leaves).Root()
}
