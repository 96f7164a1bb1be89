package rooms

// Tally counts votes per option, in option order. Pure and commutative:
// iteration order over the ledger cannot affect the result. Indices outside
// [0, optionCount) are skipped.
func Tally(optionCount int, votes map[string]int) []int {
	counts := make([]int, optionCount)
	for _, option := range votes {
		if option >= 0 && option < optionCount {
			counts[option]++
		}
	}
	return counts
}
