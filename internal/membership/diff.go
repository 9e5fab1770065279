// Package membership computes roster diffs for group updates.
package membership

import "github.com/samber/lo"

// Diff returns the members present in updated but not original
// (toAdd) and the members present in original but not updated
// (toRemove). It is pure and order-independent; duplicate entries in
// either input are collapsed. The caller applies both sets in a
// single atomic storage update so no reader observes an intermediate
// roster.
func Diff(original, updated []string) (toAdd, toRemove []string) {
	toAdd = lo.Without(lo.Uniq(updated), original...)
	toRemove = lo.Without(lo.Uniq(original), updated...)
	return toAdd, toRemove
}
