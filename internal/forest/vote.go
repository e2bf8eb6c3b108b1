package forest

// majority returns the most frequent label in labels, its count and the
// number of distinct labels. Ties go to the label seen first.
func majority[L comparable](labels []L) (label L, count, distinct int) {
	counts := make(map[L]int, 4)
	order := make([]L, 0, 4)
	for _, l := range labels {
		if _, ok := counts[l]; !ok {
			order = append(order, l)
		}
		counts[l]++
	}
	for _, l := range order {
		if counts[l] > count {
			label, count = l, counts[l]
		}
	}
	return label, count, len(order)
}

// majorityVote reduces per-tree predictions to one label per row. votes[t][r]
// is tree t's label for row r. Labels are enumerated in tree order, so a tie
// goes to the label of the lowest-indexed tree among the tied ones.
func majorityVote[L comparable](votes [][]L, rows int) []L {
	out := make([]L, rows)
	column := make([]L, len(votes))
	for r := 0; r < rows; r++ {
		for t := range votes {
			column[t] = votes[t][r]
		}
		out[r], _, _ = majority(column)
	}
	return out
}
