package changeset

import (
	"errors"
	"fmt"

	"feature-config-api/internal/configtree"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Apply replays every change of an open or committed changeset against the
// tree inside one transaction. Every conflict predicate is re-verified under
// the transaction first; the pre-apply reads the client saw are never
// trusted. Any failure rolls the whole replay back, leaving the changeset
// state and action log untouched.
func (s *ChangesetService) Apply(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.State != StateOpen && cs.State != StateCommitted {
		return ErrStateTransition
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var changes []Change
		if err := tx.Where("changeset_id = ?", cs.ID).
			Order("position asc, id asc").
			Find(&changes).Error; err != nil {
			return err
		}

		if err := lockAffectedKeys(tx, changes); err != nil {
			return err
		}

		for i := range changes {
			conflict, err := detectConflict(tx, &changes[i])
			if err != nil {
				return err
			}
			if conflict != nil {
				return fmt.Errorf("change %d: %s: %w", changes[i].ID, conflict.Kind, ErrHasConflicts)
			}
		}

		tree := configtree.TreeService{DB: tx}
		for i := range changes {
			if err := replayChange(&tree, &changes[i]); err != nil {
				return mapReplayError(err)
			}
		}

		if err := tx.Model(&cs).Update("state", StateApplied).Error; err != nil {
			return err
		}
		return s.logAction(tx, &cs, userID, ActionApply, comment)
	})
}

// lockAffectedKeys serializes concurrent applies touching the same keys.
// Row locking needs the real database; the sqlite used in tests runs each
// transaction serialized anyway.
func lockAffectedKeys(tx *gorm.DB, changes []Change) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	keyIDs := map[int64]struct{}{}
	for i := range changes {
		switch changes[i].Kind {
		case KindVariationValue:
			basedOn, err := changes[i].ValueBasedOn()
			if err != nil {
				return err
			}
			keyIDs[basedOn.KeyID] = struct{}{}
		case KindKey:
			if changes[i].TargetID != nil {
				keyIDs[*changes[i].TargetID] = struct{}{}
			}
		}
	}
	if len(keyIDs) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(keyIDs))
	for id := range keyIDs {
		ids = append(ids, id)
	}

	var locked []configtree.Key
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Find(&locked).Error
}

func replayChange(tree *configtree.TreeService, change *Change) error {
	switch change.Kind {
	case KindVariationValue:
		return replayValue(tree, change)
	case KindKey:
		return replayKey(tree, change)
	case KindLink:
		return replayLink(tree, change)
	case KindFeatureVersion:
		return replayFeatureVersion(tree, change)
	case KindServiceVersion:
		return replayServiceVersion(tree, change)
	}
	return fmt.Errorf("unknown change kind %q", change.Kind)
}

func replayValue(tree *configtree.TreeService, change *Change) error {
	switch change.Operation {
	case OpCreate:
		payload, err := change.ValuePayload()
		if err != nil {
			return err
		}
		_, err = tree.CreateValue(payload.KeyID, payload.Selector, payload.Data)
		return err
	case OpUpdate:
		payload, err := change.ValuePayload()
		if err != nil {
			return err
		}
		_, err = tree.UpdateValue(*change.TargetID, payload.Data)
		return err
	case OpDelete:
		return tree.DeleteValue(*change.TargetID)
	}
	return fmt.Errorf("unknown operation %q", change.Operation)
}

func replayKey(tree *configtree.TreeService, change *Change) error {
	switch change.Operation {
	case OpCreate:
		payload, err := change.KeyPayload()
		if err != nil {
			return err
		}
		_, err = tree.CreateKey(configtree.KeyInput{
			FeatureVersionID: payload.FeatureVersionID,
			Name:             payload.Name,
			ValueType:        configtree.ValueType(payload.ValueType),
			Chain:            payload.Chain,
			DefaultData:      payload.DefaultData,
		})
		return err
	case OpUpdate:
		payload, err := change.KeyPayload()
		if err != nil {
			return err
		}
		_, err = tree.UpdateKey(*change.TargetID, payload.NewName, payload.NewChain)
		return err
	case OpDelete:
		return tree.DeleteKey(*change.TargetID)
	}
	return fmt.Errorf("unknown operation %q", change.Operation)
}

func replayLink(tree *configtree.TreeService, change *Change) error {
	payload, err := change.LinkPayload()
	if err != nil {
		return err
	}
	switch change.Operation {
	case OpCreate:
		_, err := tree.CreateLink(payload.FeatureVersionID, payload.ServiceVersionID)
		return err
	case OpDelete:
		return tree.DeleteLink(payload.FeatureVersionID, payload.ServiceVersionID)
	}
	return fmt.Errorf("unknown operation %q", change.Operation)
}

func replayFeatureVersion(tree *configtree.TreeService, change *Change) error {
	switch change.Operation {
	case OpCreate:
		payload, err := change.VersionPayload()
		if err != nil {
			return err
		}
		_, err = tree.CreateFeatureVersion(payload.ParentID, payload.NewVersion)
		return err
	case OpDelete:
		return tree.DeleteFeatureVersion(*change.TargetID)
	}
	return fmt.Errorf("unknown operation %q", change.Operation)
}

func replayServiceVersion(tree *configtree.TreeService, change *Change) error {
	switch change.Operation {
	case OpCreate:
		payload, err := change.VersionPayload()
		if err != nil {
			return err
		}
		_, err = tree.CreateServiceVersion(payload.ParentID, payload.NewVersion)
		return err
	case OpDelete:
		return tree.DeleteServiceVersion(*change.TargetID)
	}
	return fmt.Errorf("unknown operation %q", change.Operation)
}

// mapReplayError converts a replay-time race into the same "has conflicts"
// failure the pre-check produces, so callers always re-inspect conflicts
// after a failed apply.
func mapReplayError(err error) error {
	switch {
	case errors.Is(err, configtree.ErrSelectorCollision),
		errors.Is(err, configtree.ErrDuplicateName),
		errors.Is(err, configtree.ErrDuplicateLink),
		errors.Is(err, configtree.ErrVersionRace),
		errors.Is(err, configtree.ErrPublished):
		return fmt.Errorf("%v: %w", err, ErrHasConflicts)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%v: %w", err, ErrHasConflicts)
	}
	return err
}
