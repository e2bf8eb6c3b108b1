package forest

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Classes is an ordered class set. Labels keep the order in which they were
// first observed.
type Classes[L comparable] struct {
	labels []L
	index  map[L]int
}

// NewClasses enumerates the distinct labels of y in first-seen order.
func NewClasses[L comparable](y []L) *Classes[L] {
	c := &Classes[L]{index: make(map[L]int)}
	for _, label := range y {
		if _, ok := c.index[label]; ok {
			continue
		}
		c.index[label] = len(c.labels)
		c.labels = append(c.labels, label)
	}
	return c
}

func (c *Classes[L]) Len() int { return len(c.labels) }

// Labels returns a copy of the class labels in enumeration order.
func (c *Classes[L]) Labels() []L {
	out := make([]L, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Classes[L]) Index(label L) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// Encode builds the one-hot target matrix for y: one row per label, one
// column per class, exactly one 1 per row.
func (c *Classes[L]) Encode(y []L) (*mat.Dense, error) {
	if len(y) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(c.labels) == 0 {
		return nil, fmt.Errorf("%w: class set is empty", ErrUnknownLabel)
	}
	target := mat.NewDense(len(y), len(c.labels), nil)
	for i, label := range y {
		k, ok := c.index[label]
		if !ok {
			return nil, fmt.Errorf("%w: row %d label %v", ErrUnknownLabel, i, label)
		}
		target.Set(i, k, 1)
	}
	return target, nil
}
