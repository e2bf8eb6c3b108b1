package forest

import (
	"encoding/json"
	"fmt"
)

type forestJSON[L comparable] struct {
	NClassifiers int        `json:"n_classifiers"`
	NFeatures    int        `json:"n_features"`
	Subspace     int        `json:"subspace"`
	Seed         uint64     `json:"seed"`
	ClassSet     string     `json:"class_set"`
	Classes      []L        `json:"classes"`
	Trees        []*Node[L] `json:"trees"`
}

// MarshalJSON encodes a trained forest with its tree structures.
func (f *Forest[L]) MarshalJSON() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.trees == nil {
		return nil, ErrNotFitted
	}

	out := forestJSON[L]{
		NClassifiers: f.opts.nClassifiers,
		NFeatures:    f.nFeatures,
		Subspace:     f.subspace,
		Seed:         f.opts.seed,
		ClassSet:     f.opts.classSet.String(),
		Classes:      f.classes.Labels(),
		Trees:        make([]*Node[L], len(f.trees)),
	}
	for i, t := range f.trees {
		out.Trees[i] = t.root
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a forest encoded by MarshalJSON. The decoded forest
// predicts exactly as the original did.
func (f *Forest[L]) UnmarshalJSON(data []byte) error {
	var in forestJSON[L]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Trees) == 0 {
		return fmt.Errorf("decode forest: %w: no trees", ErrNotFitted)
	}
	if in.NFeatures < 1 {
		return fmt.Errorf("decode forest: %w", ErrNoFeatures)
	}
	mode, err := ParseClassSetMode(in.ClassSet)
	if err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}

	trees := make([]*Tree[L], len(in.Trees))
	for i, root := range in.Trees {
		if err := checkNode(root, in.NFeatures); err != nil {
			return fmt.Errorf("decode forest: tree %d: %w", i, err)
		}
		root.setSubspace(in.Subspace)
		trees[i] = &Tree[L]{root: root, nFeatures: in.Subspace}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.nClassifiers == 0 {
		f.opts = defaultOptions()
	}
	f.opts.nClassifiers = len(trees)
	f.opts.seed = in.Seed
	f.opts.seeded = true
	f.opts.classSet = mode
	f.trees = trees
	f.classes = NewClasses(in.Classes)
	f.nFeatures = in.NFeatures
	f.subspace = in.Subspace
	return nil
}

// checkNode verifies that every node is either a leaf or has two children
// and that split features index existing columns.
func checkNode[L comparable](n *Node[L], nFeatures int) error {
	if n == nil {
		return fmt.Errorf("missing node")
	}
	if n.Leaf {
		if n.Left != nil || n.Right != nil {
			return fmt.Errorf("leaf with children")
		}
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("internal node without two children")
	}
	if n.Feature < 0 || n.Feature >= nFeatures {
		return fmt.Errorf("%w: split on column %d of %d", ErrFeatureCount, n.Feature, nFeatures)
	}
	if err := checkNode(n.Left, nFeatures); err != nil {
		return err
	}
	return checkNode(n.Right, nFeatures)
}
