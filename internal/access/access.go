// Package access decides whether an actor may perform an operation on a note.
// Decisions are pure: they depend only on the actor, the note row as read
// from the store (including its share list) and the current time.
package access

import (
	"fmt"
	"time"

	"webnotes-server/internal/domain"
)

type Operation int

const (
	Read Operation = iota
	Write
	Share
	Delete
)

func (o Operation) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	case Share:
		return "share"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Denied is returned when an operation is refused. Reason is one of
// domain.ErrNotVisible, domain.ErrLockedByOther or domain.ErrNotOwner.
type Denied struct {
	Op     Operation
	Reason error
	Holder string
}

func (d *Denied) Error() string {
	if d.Holder != "" {
		return fmt.Sprintf("%s denied: %v (%s)", d.Op, d.Reason, d.Holder)
	}
	return fmt.Sprintf("%s denied: %v", d.Op, d.Reason)
}

func (d *Denied) Unwrap() error {
	return d.Reason
}

// Evaluate returns nil when actor may perform op on note at now.
func Evaluate(actor domain.Identity, note *domain.Note, op Operation, now time.Time) error {
	owner := note.IsOwner(actor.ID)
	if !owner && !note.IsSharedWith(actor.ID) {
		return &Denied{Op: op, Reason: domain.ErrNotVisible}
	}

	switch op {
	case Read:
		return nil
	case Write:
		if holder := note.HolderAt(now); holder != "" && holder != actor.Username {
			return &Denied{Op: op, Reason: domain.ErrLockedByOther, Holder: holder}
		}
		return nil
	case Share, Delete:
		if !owner {
			return &Denied{Op: op, Reason: domain.ErrNotOwner}
		}
		return nil
	}
	return fmt.Errorf("unknown operation %d", int(op))
}

func CanRead(actor domain.Identity, note *domain.Note) bool {
	return note.IsOwner(actor.ID) || note.IsSharedWith(actor.ID)
}
