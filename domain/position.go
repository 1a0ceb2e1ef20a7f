package domain

import (
	"cmp"
	"slices"
)

// ComparePositions orders optional positions ascending; an absent position sorts
// after every present one and two absent positions compare equal.
func ComparePositions(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return cmp.Compare(*a, *b)
	}
}

// SortByPosition sorts tasks in place. Ties keep their collection order.
func SortByPosition(tasks []Task) {
	slices.SortStableFunc(tasks, func(a, b Task) int {
		return ComparePositions(a.Position, b.Position)
	})
}

// Pos returns a pointer to v.
func Pos(v int) *int { return &v }

func ClonePosition(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SamePosition reports whether two optional positions hold the same value.
func SamePosition(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
