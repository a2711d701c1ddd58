package utils

// Generates a sequence constructed by applying a function to all elements of a given input sequence
func Map[T any, U any](input []T, mapFunction func(T) U) []U {
	output := make([]U, len(input))

	for i := range input {
		output[i] = mapFunction(input[i])
	}

	return output
}

// Returns a sequence with the items of the input sequence that satisfy a predicate
func Filter[T any](input []T, predicate func(T) bool) []T {
	output := make([]T, 0, len(input))

	for _, value := range input {
		if predicate(value) {
			output = append(output, value)
		}
	}

	return output
}

// Returns a reference to the first item of a sequence that satisfies a predicate, or nil if
// there's no such item
func Find[T any](input []T, predicate func(T) bool) *T {
	for i := range input {
		if predicate(input[i]) {
			return &input[i]
		}
	}

	return nil
}

// Returns true if any item of a sequence satisfies a predicate
func Any[T any](input []T, predicate func(T) bool) bool {
	return Find(input, predicate) != nil
}
