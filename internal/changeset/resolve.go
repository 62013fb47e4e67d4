package changeset

import (
	"encoding/json"

	"feature-config-api/internal/configtree"
)

// Resolution operations mutate a single staged change in place. Each one is
// only valid while the change's conflict is of the matching kind, so the
// conflict is recomputed first and checked, never trusted from the client.

func (s *ChangesetService) loadOwnedChange(userID uint, changesetID, changeID int64) (*Changeset, *Change, error) {
	var cs Changeset
	if err := s.DB.First(&cs, changesetID).Error; err != nil {
		return nil, nil, err
	}
	if cs.UserID != userID {
		return nil, nil, ErrNotOwner
	}
	if cs.State != StateOpen {
		return nil, nil, ErrChangesetNotOpen
	}

	var change Change
	if err := s.DB.Where("id = ? AND changeset_id = ?", changeID, changesetID).
		First(&change).Error; err != nil {
		return nil, nil, err
	}
	return &cs, &change, nil
}

func (s *ChangesetService) conflictOfKind(change *Change, kind ConflictKind) (*Conflict, error) {
	c, err := detectConflict(s.DB, change)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Kind != kind {
		return nil, ErrNoConflict
	}
	return c, nil
}

// ConvertCreateToUpdate turns a create-value change whose selector now
// collides into an update of the value that got there first. When the staged
// data equals the existing data there is nothing left to apply and the change
// can only be discarded.
func (s *ChangesetService) ConvertCreateToUpdate(userID uint, changesetID, changeID int64) (*Change, error) {
	_, change, err := s.loadOwnedChange(userID, changesetID, changeID)
	if err != nil {
		return nil, err
	}
	if change.Kind != KindVariationValue || change.Operation != OpCreate {
		return nil, ErrNoConflict
	}
	if _, err := s.conflictOfKind(change, ConflictNewValueDuplicateVariation); err != nil {
		return nil, err
	}

	payload, err := change.ValuePayload()
	if err != nil {
		return nil, err
	}
	existing, err := s.tree().FindLiveValueBySelector(payload.KeyID, payload.Selector)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNoConflict
	}
	if existing.Data == payload.Data {
		return nil, ErrMustDiscard
	}

	var key configtree.Key
	if err := s.DB.First(&key, payload.KeyID).Error; err != nil {
		return nil, err
	}

	sel, err := existing.DecodeSelector()
	if err != nil {
		return nil, err
	}

	change.Operation = OpUpdate
	change.TargetID = &existing.ID
	change.BasedOn = encode(ValueBasedOn{
		ValueID:    existing.ID,
		KeyID:      key.ID,
		Selector:   sel,
		Data:       existing.Data,
		Validators: []byte(key.Validators),
	})
	if err := s.DB.Save(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}

// ConvertUpdateToCreate turns an update-value change whose target got
// deleted into a create carrying the same selector and data.
func (s *ChangesetService) ConvertUpdateToCreate(userID uint, changesetID, changeID int64) (*Change, error) {
	_, change, err := s.loadOwnedChange(userID, changesetID, changeID)
	if err != nil {
		return nil, err
	}
	if change.Kind != KindVariationValue || change.Operation != OpUpdate {
		return nil, ErrNoConflict
	}
	if _, err := s.conflictOfKind(change, ConflictOldValueDeleted); err != nil {
		return nil, err
	}

	payload, err := change.ValuePayload()
	if err != nil {
		return nil, err
	}

	var key configtree.Key
	if err := s.DB.First(&key, payload.KeyID).Error; err != nil {
		return nil, err
	}

	change.Operation = OpCreate
	change.TargetID = nil
	change.BasedOn = encode(ValueBasedOn{
		KeyID:      key.ID,
		Validators: []byte(key.Validators),
	})
	if err := s.DB.Save(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}

// ConfirmData acknowledges a concurrent write to the target value: the
// based-on data is refreshed to what is live now, which clears the
// old_value_updated conflict. A confirmed update whose staged data equals the
// live data would apply as a no-op and can only be discarded.
func (s *ChangesetService) ConfirmData(userID uint, changesetID, changeID int64) (*Change, error) {
	_, change, err := s.loadOwnedChange(userID, changesetID, changeID)
	if err != nil {
		return nil, err
	}
	if change.Kind != KindVariationValue ||
		(change.Operation != OpUpdate && change.Operation != OpDelete) {
		return nil, ErrNoConflict
	}
	if _, err := s.conflictOfKind(change, ConflictOldValueUpdated); err != nil {
		return nil, err
	}

	var value configtree.Value
	if err := s.DB.First(&value, *change.TargetID).Error; err != nil {
		return nil, err
	}

	if change.Operation == OpUpdate {
		payload, err := change.ValuePayload()
		if err != nil {
			return nil, err
		}
		if payload.Data == value.Data {
			return nil, ErrMustDiscard
		}
	}

	basedOn, err := change.ValueBasedOn()
	if err != nil {
		return nil, err
	}
	basedOn.Data = value.Data
	change.BasedOn = encode(basedOn)
	if err := s.DB.Save(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}

// Revalidate re-runs the staged data against the key's current validator
// chain. On success the based-on chain is refreshed, clearing the
// key_validators_updated conflict; on failure the failure is returned and the
// change is left untouched, so the user can edit the data or discard.
func (s *ChangesetService) Revalidate(userID uint, changesetID, changeID int64) (*Change, error) {
	_, change, err := s.loadOwnedChange(userID, changesetID, changeID)
	if err != nil {
		return nil, err
	}
	if change.Kind != KindVariationValue {
		return nil, ErrNoConflict
	}
	if _, err := s.conflictOfKind(change, ConflictKeyValidatorsUpdated); err != nil {
		return nil, err
	}

	basedOn, err := change.ValueBasedOn()
	if err != nil {
		return nil, err
	}

	var key configtree.Key
	if err := s.DB.First(&key, basedOn.KeyID).Error; err != nil {
		return nil, err
	}

	if change.Operation != OpDelete {
		payload, err := change.ValuePayload()
		if err != nil {
			return nil, err
		}
		if f := s.tree().CheckValueData(&key, payload.Data); f != nil {
			return nil, f
		}
	}

	basedOn.Validators = json.RawMessage(key.Validators)
	change.BasedOn = encode(basedOn)
	if err := s.DB.Save(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}

// EditChange replaces the staged data of a value create/update, re-running
// the chain. Used after a revalidation failure, and for plain edits to a
// staged value.
func (s *ChangesetService) EditChange(userID uint, changesetID, changeID int64, data string) (*Change, error) {
	_, change, err := s.loadOwnedChange(userID, changesetID, changeID)
	if err != nil {
		return nil, err
	}
	if change.Kind != KindVariationValue ||
		(change.Operation != OpCreate && change.Operation != OpUpdate) {
		return nil, ErrNoConflict
	}

	payload, err := change.ValuePayload()
	if err != nil {
		return nil, err
	}

	var key configtree.Key
	if err := s.DB.First(&key, payload.KeyID).Error; err != nil {
		return nil, err
	}
	if f := s.tree().CheckValueData(&key, data); f != nil {
		return nil, f
	}

	payload.Data = data
	change.Payload = encode(payload)
	if err := s.DB.Save(change).Error; err != nil {
		return nil, err
	}
	return change, nil
}
