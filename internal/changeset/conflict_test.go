package changeset

import (
	"testing"

	"feature-config-api/internal/configtree"
	"feature-config-api/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictKind(t *testing.T, f *fixture, changesetID, changeID int64) ConflictKind {
	t.Helper()
	view := f.mustGetView(t, changesetID)
	for _, ch := range view.Changes {
		if ch.ID == changeID {
			if ch.Conflict == nil {
				t.Fatalf("change %d has no conflict", changeID)
			}
			return ch.Conflict.Kind
		}
	}
	t.Fatalf("change %d not found in changeset %d", changeID, changesetID)
	return ""
}

func requireNoConflicts(t *testing.T, f *fixture, changesetID int64) {
	t.Helper()
	view := f.mustGetView(t, changesetID)
	if view.ConflictCount != 0 {
		t.Fatalf("expected no conflicts, got %d", view.ConflictCount)
	}
}

func TestConflictRoundTripDuplicateVariation(t *testing.T) {
	f := newFixture(t)

	// User 1 stages a create for the production selector.
	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)

	// User 2 stages and applies a value for the same selector.
	theirs, err := f.Svc.StageValueCreate(2, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "99s",
	})
	require.NoError(t, err)
	require.NoError(t, f.Svc.Apply(2, theirs.ChangesetID, ""))

	// Re-reading user 1's change now surfaces the duplicate.
	assert.Equal(t, ConflictNewValueDuplicateVariation, conflictKind(t, f, mine.ChangesetID, mine.ID))
	assert.ErrorIs(t, f.Svc.Apply(1, mine.ChangesetID, ""), ErrHasConflicts)

	// Converting to an update clears the conflict and the apply goes through.
	resolved, err := f.Svc.ConvertCreateToUpdate(1, mine.ChangesetID, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, resolved.Operation)
	require.NotNil(t, resolved.TargetID)

	requireNoConflicts(t, f, mine.ChangesetID)
	require.NoError(t, f.Svc.Apply(1, mine.ChangesetID, ""))

	// Exactly one value for the selector, holding user 1's data.
	value, err := f.Tree.FindLiveValueBySelector(f.Key.ID, f.prodSelector())
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "10s", value.Data)

	values, err := f.Tree.LiveValues(f.Key.ID)
	require.NoError(t, err)
	assert.Len(t, values, 2) // default + production
}

func TestConvertCreateToUpdateRefusedWhenDataEqual(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	_, err = f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "10s")
	require.NoError(t, err)

	_, err = f.Svc.ConvertCreateToUpdate(1, mine.ChangesetID, mine.ID)
	assert.ErrorIs(t, err, ErrMustDiscard)
}

func TestOldValueUpdatedConflictAndConfirm(t *testing.T) {
	f := newFixture(t)

	live, err := f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "before")
	require.NoError(t, err)

	mine, err := f.Svc.StageValueUpdate(1, live.ID, StageValueUpdateInput{Data: "staged"})
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)

	_, err = f.Tree.UpdateValue(live.ID, "concurrent")
	require.NoError(t, err)

	assert.Equal(t, ConflictOldValueUpdated, conflictKind(t, f, mine.ChangesetID, mine.ID))

	_, err = f.Svc.ConfirmData(1, mine.ChangesetID, mine.ID)
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)

	require.NoError(t, f.Svc.Apply(1, mine.ChangesetID, ""))
	value, err := f.Tree.FindLiveValueBySelector(f.Key.ID, f.prodSelector())
	require.NoError(t, err)
	assert.Equal(t, "staged", value.Data)
}

func TestConfirmRefusedWhenUpdateRedundant(t *testing.T) {
	f := newFixture(t)

	live, err := f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "before")
	require.NoError(t, err)

	mine, err := f.Svc.StageValueUpdate(1, live.ID, StageValueUpdateInput{Data: "same"})
	require.NoError(t, err)

	_, err = f.Tree.UpdateValue(live.ID, "same")
	require.NoError(t, err)

	_, err = f.Svc.ConfirmData(1, mine.ChangesetID, mine.ID)
	assert.ErrorIs(t, err, ErrMustDiscard)
}

func TestOldValueDeletedConflictAndConvertToCreate(t *testing.T) {
	f := newFixture(t)

	live, err := f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "before")
	require.NoError(t, err)

	mine, err := f.Svc.StageValueUpdate(1, live.ID, StageValueUpdateInput{Data: "staged"})
	require.NoError(t, err)

	require.NoError(t, f.Tree.DeleteValue(live.ID))

	assert.Equal(t, ConflictOldValueDeleted, conflictKind(t, f, mine.ChangesetID, mine.ID))

	resolved, err := f.Svc.ConvertUpdateToCreate(1, mine.ChangesetID, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, resolved.Operation)
	assert.Nil(t, resolved.TargetID)

	requireNoConflicts(t, f, mine.ChangesetID)
	require.NoError(t, f.Svc.Apply(1, mine.ChangesetID, ""))

	value, err := f.Tree.FindLiveValueBySelector(f.Key.ID, f.prodSelector())
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "staged", value.Data)
}

func TestValueInDeletedKeyConflict(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	require.NoError(t, f.Tree.DeleteKey(f.Key.ID))

	assert.Equal(t, ConflictValueInDeletedKey, conflictKind(t, f, mine.ChangesetID, mine.ID))
	assert.ErrorIs(t, f.Svc.Apply(1, mine.ChangesetID, ""), ErrHasConflicts)
}

func TestKeyValidatorsUpdatedConflictAndRevalidate(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)

	// Concurrent chain edit the staged data still satisfies.
	newChain := []validation.Def{{Type: validation.Required}, {Type: validation.MinLength, Parameter: "2"}}
	_, err = f.Tree.UpdateKey(f.Key.ID, nil, &newChain)
	require.NoError(t, err)

	assert.Equal(t, ConflictKeyValidatorsUpdated, conflictKind(t, f, mine.ChangesetID, mine.ID))

	_, err = f.Svc.Revalidate(1, mine.ChangesetID, mine.ID)
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)
	require.NoError(t, f.Svc.Apply(1, mine.ChangesetID, ""))
}

func TestRevalidateFailsWhenDataNoLongerPasses(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	newChain := []validation.Def{{Type: validation.MinLength, Parameter: "10"}}
	_, err = f.Tree.UpdateKey(f.Key.ID, nil, &newChain)
	require.NoError(t, err)

	_, err = f.Svc.Revalidate(1, mine.ChangesetID, mine.ID)
	var failure *validation.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validation.MinLength, failure.Validator.Type)

	// Conflict stays until the data is edited to pass.
	assert.Equal(t, ConflictKeyValidatorsUpdated, conflictKind(t, f, mine.ChangesetID, mine.ID))

	_, err = f.Svc.EditChange(1, mine.ChangesetID, mine.ID, "10 seconds flat")
	require.NoError(t, err)
	_, err = f.Svc.Revalidate(1, mine.ChangesetID, mine.ID)
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)
}

func TestKeyUpdateUnaffectedByConcurrentChainEdit(t *testing.T) {
	f := newFixture(t)

	newName := "request_timeout"
	mine, err := f.Svc.StageKeyUpdate(1, f.Key.ID, StageKeyUpdateInput{Name: &newName})
	require.NoError(t, err)

	// Chain staleness only matters for staged value data; a key rename stays
	// appliable across a concurrent chain edit.
	newChain := []validation.Def{{Type: validation.MinLength, Parameter: "2"}}
	_, err = f.Tree.UpdateKey(f.Key.ID, nil, &newChain)
	require.NoError(t, err)

	requireNoConflicts(t, f, mine.ChangesetID)
	require.NoError(t, f.Svc.Apply(1, mine.ChangesetID, ""))

	var key configtree.Key
	require.NoError(t, f.DB.First(&key, f.Key.ID).Error)
	assert.Equal(t, "request_timeout", key.Name)
}

func TestKeyDuplicateNameConflict(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageKeyCreate(1, StageKeyCreateInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        "integer",
		DefaultData:      "3",
	})
	require.NoError(t, err)
	requireNoConflicts(t, f, mine.ChangesetID)

	_, err = f.Tree.CreateKey(configtree.KeyInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        configtree.TypeInteger,
		DefaultData:      "5",
	})
	require.NoError(t, err)

	assert.Equal(t, ConflictKeyDuplicateName, conflictKind(t, f, mine.ChangesetID, mine.ID))
}

func TestKeyInDeletedFeatureConflict(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageKeyCreate(1, StageKeyCreateInput{
		FeatureVersionID: f.FeatureVersion.ID,
		Name:             "retries",
		ValueType:        "integer",
		DefaultData:      "3",
	})
	require.NoError(t, err)

	require.NoError(t, f.Tree.DeleteFeatureVersion(f.FeatureVersion.ID))

	assert.Equal(t, ConflictKeyInDeletedFeature, conflictKind(t, f, mine.ChangesetID, mine.ID))
}

func TestLinkConflicts(t *testing.T) {
	f := newFixture(t)

	// Staging an unlink, then the link disappears underneath it.
	unlink, err := f.Svc.StageUnlink(1, StageLinkInput{
		FeatureVersionID: f.FeatureVersion.ID,
		ServiceVersionID: f.ServiceVersion.ID,
	})
	require.NoError(t, err)
	requireNoConflicts(t, f, unlink.ChangesetID)

	require.NoError(t, f.Tree.DeleteLink(f.FeatureVersion.ID, f.ServiceVersion.ID))
	assert.Equal(t, ConflictDeletedLink, conflictKind(t, f, unlink.ChangesetID, unlink.ID))

	// Staging a link, then the same link gets created live.
	link, err := f.Svc.StageLink(2, StageLinkInput{
		FeatureVersionID: f.FeatureVersion.ID,
		ServiceVersionID: f.ServiceVersion.ID,
	})
	require.NoError(t, err)
	requireNoConflicts(t, f, link.ChangesetID)

	_, err = f.Tree.CreateLink(f.FeatureVersion.ID, f.ServiceVersion.ID)
	require.NoError(t, err)
	assert.Equal(t, ConflictDuplicateLink, conflictKind(t, f, link.ChangesetID, link.ID))
}

func TestInconsistentVersionConflicts(t *testing.T) {
	f := newFixture(t)

	fvChange, err := f.Svc.StageFeatureVersionCreate(1, f.Feature.ID, nil)
	require.NoError(t, err)
	svChange, err := f.Svc.StageServiceVersionCreate(1, f.Service.ID, nil)
	require.NoError(t, err)
	requireNoConflicts(t, f, fvChange.ChangesetID)

	// Concurrent version creations win the race.
	_, err = f.Tree.CreateFeatureVersion(f.Feature.ID, 2)
	require.NoError(t, err)
	_, err = f.Tree.CreateServiceVersion(f.Service.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, ConflictInconsistentFeatureVersion, conflictKind(t, f, fvChange.ChangesetID, fvChange.ID))
	assert.Equal(t, ConflictInconsistentServiceVersion, conflictKind(t, f, svChange.ChangesetID, svChange.ID))
}

func TestResolutionGuards(t *testing.T) {
	f := newFixture(t)

	mine, err := f.Svc.StageValueCreate(1, StageValueCreateInput{
		KeyID:    f.Key.ID,
		Selector: f.prodSelector(),
		Data:     "10s",
	})
	require.NoError(t, err)

	// No conflict of the requested kind yet.
	_, err = f.Svc.ConvertCreateToUpdate(1, mine.ChangesetID, mine.ID)
	assert.ErrorIs(t, err, ErrNoConflict)

	_, err = f.Tree.CreateValue(f.Key.ID, f.prodSelector(), "live")
	require.NoError(t, err)

	// Only the owner may resolve.
	_, err = f.Svc.ConvertCreateToUpdate(2, mine.ChangesetID, mine.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Wrong resolution op for the conflict kind.
	_, err = f.Svc.ConvertUpdateToCreate(1, mine.ChangesetID, mine.ID)
	assert.ErrorIs(t, err, ErrNoConflict)
}
