package merge

// CombineMaps folds an override chain of maps left to right. A set map is
// shallow-merged into the accumulator, later keys overwriting earlier ones.
// A cleared value discards everything accumulated so far. An unset value is
// skipped. The result is unset when no map survived the fold.
//
// Input maps are never mutated; the accumulator is always a fresh map.
func CombineMaps[K comparable, V any](vals ...Value[map[K]V]) Value[map[K]V] {
	var acc map[K]V
	have := false

	for _, val := range vals {
		switch {
		case val.IsCleared():
			acc = nil
			have = false
		case val.IsSet():
			m, _ := val.Get()
			if !have {
				acc = make(map[K]V, len(m))
				have = true
			}
			for k, v := range m {
				acc[k] = v
			}
		}
	}

	if !have {
		return Unset[map[K]V]()
	}
	return Set(acc)
}

// CombineSlices folds an override chain of slices left to right by
// concatenation, with the same clear/skip rules as CombineMaps. The result
// is a fresh slice; inputs are never mutated.
func CombineSlices[T any](vals ...Value[[]T]) Value[[]T] {
	var acc []T
	have := false

	for _, val := range vals {
		switch {
		case val.IsCleared():
			acc = nil
			have = false
		case val.IsSet():
			s, _ := val.Get()
			if !have {
				acc = make([]T, 0, len(s))
				have = true
			}
			acc = append(acc, s...)
		}
	}

	if !have {
		return Unset[[]T]()
	}
	return Set(acc)
}

// Last returns the last set value in an override chain, without merging.
// A cleared value cancels everything before it, so a chain ending in
// cleared-then-unset resolves to unset.
func Last[T any](vals ...Value[T]) Value[T] {
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i].IsCleared() {
			return Unset[T]()
		}
		if vals[i].IsSet() {
			return vals[i]
		}
	}
	return Unset[T]()
}
