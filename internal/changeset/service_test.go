package changeset

import (
	"errors"
	"testing"

	"feature-config-api/internal/configtree"
	"feature-config-api/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingCreatesChangesetImplicitly(t *testing.T) {
	f := newFixture(t)

	view, err := f.Svc.GetCurrent(1)
	require.NoError(t, err)
	assert.Nil(t, view)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, change.Position)

	view, err = f.Svc.GetCurrent(1)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, StateOpen, view.State)
	assert.Len(t, view.Changes, 1)
	assert.NotEmpty(t, view.UUID)
}

func TestStagingReusesOpenChangesetAndOrdersChanges(t *testing.T) {
	f := newFixture(t)

	first, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	second, err := f.Svc.StageKeyCreate(1, StageKeyCreateInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        "integer",
		DefaultData:      "3",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ChangesetID, second.ChangesetID)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)
}

func TestStagingIsolatedPerUser(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	theirs, err := f.Svc.StageValueCreate(2, StageValueCreateInput{
		KeyID: f.Key.ID,
		Data:  "20s",
	})
	require.NoError(t, err)

	assert.NotEqual(t, mine.ChangesetID, theirs.ChangesetID)
}

func TestStagingValidatesDataUpFront(t *testing.T) {
	f := newFixture(t)

	// Key chain is [required]
	_, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "",
	})
	var failure *validation.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validation.Required, failure.Validator.Type)
}

func TestStagingRejectsUnselectableSelector(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.DB.Model(&f.EnvProd).Update("archived", true).Error)

	_, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	assert.ErrorIs(t, err, configtree.ErrValueNotSelectable)
}

func TestStagingDoesNotFailOnSelectorCollision(t *testing.T) {
	f := newFixture(t)

	_, err := f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "live")
	require.NoError(t, err)

	// Collisions are surfaced as conflicts, not staging errors.
	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "staged",
	})
	require.NoError(t, err)

	view := f.mustGetView(t, change.ChangesetID)
	require.NotNil(t, view.Changes[0].Conflict)
	assert.Equal(t, ConflictNewValueDuplicateVariation, view.Changes[0].Conflict.Kind)
	assert.Equal(t, 1, view.ConflictCount)
}

func TestStageValueDeleteRefusesDefault(t *testing.T) {
	f := newFixture(t)

	values, err := f.Tree.LiveValues(f.Key.ID)
	require.NoError(t, err)
	require.Len(t, values, 1)

	_, err = f.Svc.StageValueDelete(1, values[0].ID, nil)
	assert.ErrorIs(t, err, configtree.ErrDefaultValueImmutable)
}

func TestCanAddValue(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.Svc.CanAddValue(f.Key.ID, f.prodSelector()))

	_, err := f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "live")
	require.NoError(t, err)

	assert.ErrorIs(t, f.Svc.CanAddValue(f.Key.ID, f.prodSelector()), configtree.ErrSelectorCollision)
}

func TestCommitAndReopen(t *testing.T) {
	f := newFixture(t)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	require.NoError(t, f.Svc.Commit(1, change.ChangesetID, "ready"))
	view := f.mustGetView(t, change.ChangesetID)
	assert.Equal(t, StateCommitted, view.State)

	// Committed changesets accept no further staging.
	_, err = f.Svc.StageValueCreate(1, StageValueCreateInput{
		ChangesetID: &change.ChangesetID,
		KeyID:       f.Key.ID,
		Data:        "20s",
	})
	assert.ErrorIs(t, err, ErrChangesetNotOpen)

	require.NoError(t, f.Svc.Reopen(1, change.ChangesetID, ""))
	view = f.mustGetView(t, change.ChangesetID)
	assert.Equal(t, StateOpen, view.State)

	types := make([]ActionType, 0, len(view.Actions))
	for _, a := range view.Actions {
		types = append(types, a.Type)
	}
	assert.Equal(t, []ActionType{ActionCommit, ActionReopen}, types)
}

func TestReopenBlockedByAnotherOpenChangeset(t *testing.T) {
	f := newFixture(t)

	first, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "10s"})
	require.NoError(t, err)
	require.NoError(t, f.Svc.Stash(1, first.ChangesetID, ""))

	second, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "20s"})
	require.NoError(t, err)
	require.NotEqual(t, first.ChangesetID, second.ChangesetID)

	err = f.Svc.Reopen(1, first.ChangesetID, "")
	assert.ErrorIs(t, err, ErrStateTransition)
}

func TestOwnerOnlyTransitions(t *testing.T) {
	f := newFixture(t)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "10s"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.Svc.Stash(2, change.ChangesetID, ""), ErrNotOwner)
	assert.ErrorIs(t, f.Svc.Discard(2, change.ChangesetID, ""), ErrNotOwner)

	require.NoError(t, f.Svc.Stash(1, change.ChangesetID, ""))
	assert.ErrorIs(t, f.Svc.Reopen(2, change.ChangesetID, ""), ErrNotOwner)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	f := newFixture(t)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "10s"})
	require.NoError(t, err)
	require.NoError(t, f.Svc.Discard(1, change.ChangesetID, "never mind"))

	assert.ErrorIs(t, f.Svc.Commit(1, change.ChangesetID, ""), ErrStateTransition)
	assert.ErrorIs(t, f.Svc.Stash(1, change.ChangesetID, ""), ErrStateTransition)
	assert.ErrorIs(t, f.Svc.Reopen(1, change.ChangesetID, ""), ErrStateTransition)
	assert.ErrorIs(t, f.Svc.Apply(1, change.ChangesetID, ""), ErrStateTransition)
	assert.ErrorIs(t, f.Svc.Comment(1, change.ChangesetID, "late"), ErrStateTransition)
}

func TestDiscardReleasesChangesWithoutTouchingTree(t *testing.T) {
	f := newFixture(t)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)
	require.NoError(t, f.Svc.Discard(1, change.ChangesetID, ""))

	values, err := f.Tree.LiveValues(f.Key.ID)
	require.NoError(t, err)
	assert.Len(t, values, 1) // only the default

	// A fresh edit opens a new changeset.
	next, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "20s"})
	require.NoError(t, err)
	assert.NotEqual(t, change.ChangesetID, next.ChangesetID)
}

func TestDiscardSingleChange(t *testing.T) {
	f := newFixture(t)

	first, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)
	second, err := f.Svc.StageKeyDelete(1, f.Key.ID, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Svc.DiscardChange(2, first.ChangesetID, first.ID), ErrNotOwner)
	require.NoError(t, f.Svc.DiscardChange(1, first.ChangesetID, first.ID))

	view := f.mustGetView(t, first.ChangesetID)
	require.Len(t, view.Changes, 1)
	assert.Equal(t, second.ID, view.Changes[0].ID)
}

func TestCommentAppendsAction(t *testing.T) {
	f := newFixture(t)

	change, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "10s"})
	require.NoError(t, err)

	require.NoError(t, f.Svc.Comment(2, change.ChangesetID, "looks fine"))

	view := f.mustGetView(t, change.ChangesetID)
	require.Len(t, view.Actions, 1)
	assert.Equal(t, ActionComment, view.Actions[0].Type)
	assert.Equal(t, uint(2), view.Actions[0].UserID)
	assert.Equal(t, "looks fine", view.Actions[0].Comment)
	assert.Equal(t, StateOpen, view.State)
}

func TestListByAuthorAndApprovable(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{KeyID: f.Key.ID, Data: "10s"})
	require.NoError(t, err)
	theirs, err := f.Svc.StageValueCreate(2, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "20s",
	})
	require.NoError(t, err)

	byAuthor, err := f.Svc.ListByAuthor(1)
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, mine.ChangesetID, byAuthor[0].ID)

	approvable, err := f.Svc.ListApprovable()
	require.NoError(t, err)
	assert.Empty(t, approvable)

	require.NoError(t, f.Svc.Commit(2, theirs.ChangesetID, ""))
	approvable, err = f.Svc.ListApprovable()
	require.NoError(t, err)
	require.Len(t, approvable, 1)
	assert.Equal(t, theirs.ChangesetID, approvable[0].ID)
}

func TestStageKeyCreateValidatesDefaultAgainstChain(t *testing.T) {
	f := newFixture(t)

	_, err := f.Svc.StageKeyCreate(1, StageKeyCreateInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        "integer",
		Chain:            []validation.Def{{Type: validation.Min, Parameter: "1"}},
		DefaultData:      "0",
	})
	var failure *validation.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validation.Min, failure.Validator.Type)
}

func TestStageKeyCreateRejectsBadChainDefinition(t *testing.T) {
	f := newFixture(t)

	_, err := f.Svc.StageKeyCreate(1, StageKeyCreateInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        "string",
		Chain:            []validation.Def{{Type: validation.Regex, Parameter: "("}},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrChangesetNotOpen))
}
