package gen

// DeleteFromSliceUnordered removes element i by swapping the last element
// into its place. O(1), does not preserve order.
func DeleteFromSliceUnordered[T any](s []T, i int) []T {
	s[i] = s[len(s)-1]
	return s[:len(s)-1]
}
