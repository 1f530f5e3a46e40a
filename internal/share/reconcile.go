// Package share computes and applies the minimal change set that moves a
// note's share relations from their current to their desired state.
package share

import (
	"context"
	"fmt"
	"slices"
)

// Plan lists the relations to add and remove. Both lists are sorted and
// disjoint.
type Plan struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

func (p Plan) Empty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0
}

// Store is the part of the share repository a plan is applied to.
type Store interface {
	Add(ctx context.Context, noteID, userID int64) error
	Remove(ctx context.Context, noteID, userID int64) error
}

// Diff returns removed = current - desired and added = desired - current.
// ownerID is never added, even when present in desired.
func Diff(ownerID int64, current, desired []int64) Plan {
	cur := toSet(current, 0)
	want := toSet(desired, ownerID)

	var plan Plan
	for id := range cur {
		if _, ok := want[id]; !ok {
			plan.Removed = append(plan.Removed, id)
		}
	}
	for id := range want {
		if _, ok := cur[id]; !ok {
			plan.Added = append(plan.Added, id)
		}
	}
	slices.Sort(plan.Added)
	slices.Sort(plan.Removed)
	return plan
}

// Apply runs the removals and then the additions against store.
func Apply(ctx context.Context, store Store, noteID int64, plan Plan) error {
	for _, userID := range plan.Removed {
		if err := store.Remove(ctx, noteID, userID); err != nil {
			return fmt.Errorf("failed to remove share %d from note %d: %w", userID, noteID, err)
		}
	}
	for _, userID := range plan.Added {
		if err := store.Add(ctx, noteID, userID); err != nil {
			return fmt.Errorf("failed to share note %d with %d: %w", noteID, userID, err)
		}
	}
	return nil
}

func toSet(ids []int64, exclude int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if exclude != 0 && id == exclude {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
