package changeset

import "errors"

var (
	ErrHasConflicts     = errors.New("the changeset has unresolved conflicts")
	ErrStateTransition  = errors.New("the changeset state does not allow this action")
	ErrNotOwner         = errors.New("only the owning user may perform this action")
	ErrChangesetNotOpen = errors.New("the changeset is not open")
	ErrMustDiscard      = errors.New("the change is redundant and can only be discarded")
	ErrNoConflict       = errors.New("the change has no conflict of that kind")
)
