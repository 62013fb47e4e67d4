package changeset

import (
	"bytes"
	"encoding/json"
	"errors"

	"feature-config-api/internal/configtree"

	"gorm.io/gorm"
)

// detectConflict compares a change's based-on snapshot to current tree state
// and returns the conflict the change is in, or nil. Conflicts are never
// stored; callers recompute on every read and again inside the apply
// transaction.
func detectConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	switch change.Kind {
	case KindVariationValue:
		return detectValueConflict(db, change)
	case KindKey:
		return detectKeyConflict(db, change)
	case KindLink:
		return detectLinkConflict(db, change)
	case KindFeatureVersion:
		return detectFeatureVersionConflict(db, change)
	case KindServiceVersion:
		return detectServiceVersionConflict(db, change)
	}
	return nil, nil
}

func conflict(kind ConflictKind, existing interface{}) *Conflict {
	c := Conflict{Kind: kind}
	if existing != nil {
		c.Existing = encode(existing)
	}
	return &c
}

func detectValueConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	basedOn, err := change.ValueBasedOn()
	if err != nil {
		return nil, err
	}

	var key configtree.Key
	err = db.First(&key, basedOn.KeyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && key.IsDelete) {
		return conflict(ConflictValueInDeletedKey, key), nil
	}
	if err != nil {
		return nil, err
	}

	var fv configtree.FeatureVersion
	err = db.First(&fv, key.FeatureVersionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && fv.IsDelete) {
		return conflict(ConflictValueInDeletedFeature, fv), nil
	}
	if err != nil {
		return nil, err
	}

	tree := configtree.TreeService{DB: db}

	switch change.Operation {
	case OpCreate:
		payload, err := change.ValuePayload()
		if err != nil {
			return nil, err
		}
		existing, err := tree.FindLiveValueBySelector(key.ID, payload.Selector)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return conflict(ConflictNewValueDuplicateVariation, existing), nil
		}

	case OpUpdate, OpDelete:
		var value configtree.Value
		err := db.First(&value, *change.TargetID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && value.IsDelete) {
			return conflict(ConflictOldValueDeleted, basedOn), nil
		}
		if err != nil {
			return nil, err
		}

		if change.Operation == OpDelete {
			published, err := tree.InPublishedScope(key.FeatureVersionID)
			if err != nil {
				return nil, err
			}
			if published {
				return conflict(ConflictChangeInPublishedVersion, nil), nil
			}
		}

		if value.Data != basedOn.Data {
			return conflict(ConflictOldValueUpdated, value), nil
		}
	}

	// A delete is unaffected by the chain; only staged data can go stale.
	if change.Operation != OpDelete && validatorsChanged(basedOn.Validators, []byte(key.Validators)) {
		return conflict(ConflictKeyValidatorsUpdated, json.RawMessage(key.Validators)), nil
	}
	return nil, nil
}

func detectKeyConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	basedOn, err := change.KeyBasedOn()
	if err != nil {
		return nil, err
	}

	var fv configtree.FeatureVersion
	err = db.First(&fv, basedOn.FeatureVersionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && fv.IsDelete) {
		return conflict(ConflictKeyInDeletedFeature, fv), nil
	}
	if err != nil {
		return nil, err
	}

	tree := configtree.TreeService{DB: db}

	switch change.Operation {
	case OpCreate:
		payload, err := change.KeyPayload()
		if err != nil {
			return nil, err
		}
		existing, err := liveKeyByName(db, fv.ID, payload.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return conflict(ConflictKeyDuplicateName, existing), nil
		}

	case OpUpdate, OpDelete:
		var key configtree.Key
		err := db.First(&key, *change.TargetID).Error
		// The key itself being gone leaves nothing to apply against; the
		// change can only be discarded, same as a deleted ancestor.
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && key.IsDelete) {
			return conflict(ConflictKeyInDeletedFeature, key), nil
		}
		if err != nil {
			return nil, err
		}

		if change.Operation == OpDelete {
			published, err := tree.InPublishedScope(key.FeatureVersionID)
			if err != nil {
				return nil, err
			}
			if published {
				return conflict(ConflictChangeInPublishedVersion, nil), nil
			}
		}

		if change.Operation == OpUpdate {
			payload, err := change.KeyPayload()
			if err != nil {
				return nil, err
			}
			if payload.NewName != nil && *payload.NewName != key.Name {
				existing, err := liveKeyByName(db, key.FeatureVersionID, *payload.NewName)
				if err != nil {
					return nil, err
				}
				if existing != nil && existing.ID != key.ID {
					return conflict(ConflictKeyDuplicateName, existing), nil
				}
			}
		}
	}
	return nil, nil
}

func detectLinkConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	payload, err := change.LinkPayload()
	if err != nil {
		return nil, err
	}

	var link configtree.FeatureVersionLink
	err = db.Where("feature_version_id = ? AND service_version_id = ? AND is_delete = ?",
		payload.FeatureVersionID, payload.ServiceVersionID, false).
		First(&link).Error
	linkLive := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	switch change.Operation {
	case OpCreate:
		if linkLive {
			return conflict(ConflictDuplicateLink, link), nil
		}
		// Either endpoint disappearing makes the link impossible to create.
		var fv configtree.FeatureVersion
		err := db.First(&fv, payload.FeatureVersionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && fv.IsDelete) {
			return conflict(ConflictDeletedLink, fv), nil
		}
		if err != nil {
			return nil, err
		}
		var sv configtree.ServiceVersion
		err = db.First(&sv, payload.ServiceVersionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && sv.IsDelete) {
			return conflict(ConflictDeletedLink, sv), nil
		}
		if err != nil {
			return nil, err
		}

	case OpDelete:
		if !linkLive {
			return conflict(ConflictDeletedLink, nil), nil
		}
		var sv configtree.ServiceVersion
		if err := db.First(&sv, payload.ServiceVersionID).Error; err != nil {
			return nil, err
		}
		if sv.Published {
			return conflict(ConflictChangeInPublishedVersion, sv), nil
		}
	}
	return nil, nil
}

func detectFeatureVersionConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	switch change.Operation {
	case OpCreate:
		payload, err := change.VersionPayload()
		if err != nil {
			return nil, err
		}
		var latest configtree.FeatureVersion
		err = db.Where("feature_id = ? AND is_last_version = ? AND is_delete = ?",
			payload.ParentID, true, false).
			First(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conflict(ConflictInconsistentFeatureVersion, nil), nil
		}
		if err != nil {
			return nil, err
		}
		if latest.Version+1 != payload.NewVersion {
			return conflict(ConflictInconsistentFeatureVersion, latest), nil
		}

	case OpDelete:
		var fv configtree.FeatureVersion
		err := db.First(&fv, *change.TargetID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && fv.IsDelete) {
			return conflict(ConflictInconsistentFeatureVersion, fv), nil
		}
		if err != nil {
			return nil, err
		}
		tree := configtree.TreeService{DB: db}
		published, err := tree.InPublishedScope(fv.ID)
		if err != nil {
			return nil, err
		}
		if published {
			return conflict(ConflictChangeInPublishedVersion, nil), nil
		}
	}
	return nil, nil
}

func detectServiceVersionConflict(db *gorm.DB, change *Change) (*Conflict, error) {
	switch change.Operation {
	case OpCreate:
		payload, err := change.VersionPayload()
		if err != nil {
			return nil, err
		}
		var latest configtree.ServiceVersion
		err = db.Where("service_id = ? AND is_last_version = ? AND is_delete = ?",
			payload.ParentID, true, false).
			First(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conflict(ConflictInconsistentServiceVersion, nil), nil
		}
		if err != nil {
			return nil, err
		}
		if latest.Version+1 != payload.NewVersion {
			return conflict(ConflictInconsistentServiceVersion, latest), nil
		}

	case OpDelete:
		var sv configtree.ServiceVersion
		err := db.First(&sv, *change.TargetID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && sv.IsDelete) {
			return conflict(ConflictInconsistentServiceVersion, sv), nil
		}
		if err != nil {
			return nil, err
		}
		if sv.Published {
			return conflict(ConflictChangeInPublishedVersion, sv), nil
		}
	}
	return nil, nil
}

func liveKeyByName(db *gorm.DB, featureVersionID int64, name string) (*configtree.Key, error) {
	var key configtree.Key
	err := db.Where("feature_version_id = ? AND name = ? AND is_delete = ?",
		featureVersionID, name, false).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// validatorsChanged compares two chain encodings structurally, so formatting
// differences don't register as concurrent edits.
func validatorsChanged(a, b []byte) bool {
	if len(a) == 0 && len(b) == 0 {
		return false
	}
	var ca, cb interface{}
	if json.Unmarshal(normalizeJSON(a), &ca) != nil || json.Unmarshal(normalizeJSON(b), &cb) != nil {
		return !bytes.Equal(a, b)
	}
	na, _ := json.Marshal(ca)
	nb, _ := json.Marshal(cb)
	return !bytes.Equal(na, nb)
}

func normalizeJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("[]")
	}
	return b
}
