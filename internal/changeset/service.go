package changeset

import (
	"errors"
	"fmt"

	"feature-config-api/internal/configtree"
	"feature-config-api/internal/validation"
	"feature-config-api/internal/variation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChangesetService struct {
	DB *gorm.DB
}

func (s *ChangesetService) tree() *configtree.TreeService {
	return &configtree.TreeService{DB: s.DB}
}

// currentOrNew returns the user's open changeset, creating it when the first
// edit is staged. When an explicit changeset id is supplied it must be that
// user's open changeset.
func (s *ChangesetService) currentOrNew(userID uint, changesetID *int64) (*Changeset, error) {
	if changesetID != nil {
		var cs Changeset
		if err := s.DB.First(&cs, *changesetID).Error; err != nil {
			return nil, err
		}
		if cs.UserID != userID {
			return nil, ErrNotOwner
		}
		if cs.State != StateOpen {
			return nil, ErrChangesetNotOpen
		}
		return &cs, nil
	}

	var cs Changeset
	err := s.DB.Where("user_id = ? AND state = ?", userID, StateOpen).First(&cs).Error
	if err == nil {
		return &cs, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cs = Changeset{UUID: uuid.NewString(), UserID: userID, State: StateOpen}
	if err := s.DB.Create(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *ChangesetService) appendChange(cs *Changeset, change Change) (*Change, error) {
	var maxPos int
	row := s.DB.Model(&Change{}).
		Where("changeset_id = ?", cs.ID).
		Select("COALESCE(MAX(position), 0)").
		Row()
	if err := row.Scan(&maxPos); err != nil {
		return nil, err
	}

	change.ChangesetID = cs.ID
	change.Position = maxPos + 1
	if err := s.DB.Create(&change).Error; err != nil {
		return nil, err
	}
	return &change, nil
}

// ---- staging: values ----

type StageValueCreateInput struct {
	ChangesetID *int64             `json:"changeset_id"`
	KeyID       int64              `json:"key_id" binding:"required"`
	Selector    variation.Selector `json:"selector"`
	Data        string             `json:"data"`
}

func (s *ChangesetService) StageValueCreate(userID uint, input StageValueCreateInput) (*Change, error) {
	tree := s.tree()

	key, err := tree.GetKey(input.KeyID)
	if err != nil {
		return nil, err
	}

	if err := tree.SelectorSelectable(input.Selector); err != nil {
		return nil, err
	}
	if f := tree.CheckValueData(&key.Key, input.Data); f != nil {
		return nil, f
	}

	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindVariationValue,
		Operation: OpCreate,
		BasedOn: encode(ValueBasedOn{
			KeyID:      key.ID,
			Validators: []byte(key.Validators),
		}),
		Payload: encode(ValuePayload{
			KeyID:    key.ID,
			Selector: input.Selector,
			Data:     input.Data,
		}),
	})
}

type StageValueUpdateInput struct {
	ChangesetID *int64 `json:"changeset_id"`
	Data        string `json:"data"`
}

func (s *ChangesetService) StageValueUpdate(userID uint, valueID int64, input StageValueUpdateInput) (*Change, error) {
	value, key, err := s.liveValueWithKey(valueID)
	if err != nil {
		return nil, err
	}

	if f := s.tree().CheckValueData(key, input.Data); f != nil {
		return nil, f
	}

	sel, err := value.DecodeSelector()
	if err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindVariationValue,
		Operation: OpUpdate,
		TargetID:  &value.ID,
		BasedOn: encode(ValueBasedOn{
			ValueID:    value.ID,
			KeyID:      key.ID,
			Selector:   sel,
			Data:       value.Data,
			Validators: []byte(key.Validators),
		}),
		Payload: encode(ValuePayload{
			KeyID:    key.ID,
			Selector: sel,
			Data:     input.Data,
		}),
	})
}

func (s *ChangesetService) StageValueDelete(userID uint, valueID int64, changesetID *int64) (*Change, error) {
	value, key, err := s.liveValueWithKey(valueID)
	if err != nil {
		return nil, err
	}

	sel, err := value.DecodeSelector()
	if err != nil {
		return nil, err
	}
	if len(sel) == 0 {
		return nil, configtree.ErrDefaultValueImmutable
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindVariationValue,
		Operation: OpDelete,
		TargetID:  &value.ID,
		BasedOn: encode(ValueBasedOn{
			ValueID:    value.ID,
			KeyID:      key.ID,
			Selector:   sel,
			Data:       value.Data,
			Validators: []byte(key.Validators),
		}),
	})
}

func (s *ChangesetService) liveValueWithKey(valueID int64) (*configtree.Value, *configtree.Key, error) {
	var value configtree.Value
	if err := s.DB.Where("id = ? AND is_delete = ?", valueID, false).First(&value).Error; err != nil {
		return nil, nil, err
	}
	var key configtree.Key
	if err := s.DB.First(&key, value.KeyID).Error; err != nil {
		return nil, nil, err
	}
	return &value, &key, nil
}

// ---- pre-checks ----

// CanAddValue reports whether a value with the selector could be staged now:
// the selector must be selectable and collision-free.
func (s *ChangesetService) CanAddValue(keyID int64, sel variation.Selector) error {
	tree := s.tree()
	if _, err := tree.GetKey(keyID); err != nil {
		return err
	}
	if err := tree.SelectorSelectable(sel); err != nil {
		return err
	}
	existing, err := tree.FindLiveValueBySelector(keyID, sel)
	if err != nil {
		return err
	}
	if existing != nil {
		return configtree.ErrSelectorCollision
	}
	return nil
}

// CanEditValue reports whether the value still exists to be edited.
func (s *ChangesetService) CanEditValue(valueID int64) error {
	_, _, err := s.liveValueWithKey(valueID)
	return err
}

// ---- staging: keys ----

type StageKeyCreateInput struct {
	ChangesetID      *int64           `json:"changeset_id"`
	FeatureVersionID int64            `json:"feature_version_id" binding:"required"`
	Name             string           `json:"name" binding:"required"`
	ValueType        string           `json:"value_type" binding:"required"`
	Chain            []validation.Def `json:"chain"`
	DefaultData      string           `json:"default_data"`
}

func (s *ChangesetService) StageKeyCreate(userID uint, input StageKeyCreateInput) (*Change, error) {
	var fv configtree.FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", input.FeatureVersionID, false).
		First(&fv).Error; err != nil {
		return nil, err
	}

	if err := validation.CheckChain(input.Chain); err != nil {
		return nil, err
	}

	probe := configtree.Key{ValueType: configtree.ValueType(input.ValueType)}
	if f := s.tree().CheckValueData(&probe, input.DefaultData); f != nil {
		return nil, f
	}
	if f := validation.Validate(input.DefaultData, input.Chain); f != nil {
		return nil, f
	}

	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}

	// The key's default (empty selector) value is part of this change; it is
	// created with the key and cannot be discarded on its own.
	return s.appendChange(cs, Change{
		Kind:      KindKey,
		Operation: OpCreate,
		BasedOn:   encode(KeyBasedOn{FeatureVersionID: fv.ID}),
		Payload: encode(KeyPayload{
			FeatureVersionID: fv.ID,
			Name:             input.Name,
			ValueType:        input.ValueType,
			Chain:            input.Chain,
			DefaultData:      input.DefaultData,
		}),
	})
}

type StageKeyUpdateInput struct {
	ChangesetID *int64            `json:"changeset_id"`
	Name        *string           `json:"name"`
	Chain       *[]validation.Def `json:"chain"`
}

func (s *ChangesetService) StageKeyUpdate(userID uint, keyID int64, input StageKeyUpdateInput) (*Change, error) {
	key, err := s.tree().GetKey(keyID)
	if err != nil {
		return nil, err
	}

	if input.Chain != nil {
		if err := validation.CheckChain(*input.Chain); err != nil {
			return nil, err
		}
	}

	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindKey,
		Operation: OpUpdate,
		TargetID:  &key.ID,
		BasedOn: encode(KeyBasedOn{
			KeyID:            key.ID,
			FeatureVersionID: key.FeatureVersionID,
			Name:             key.Name,
			Validators:       []byte(key.Validators),
		}),
		Payload: encode(KeyPayload{
			FeatureVersionID: key.FeatureVersionID,
			Name:             key.Name,
			NewName:          input.Name,
			NewChain:         input.Chain,
		}),
	})
}

func (s *ChangesetService) StageKeyDelete(userID uint, keyID int64, changesetID *int64) (*Change, error) {
	key, err := s.tree().GetKey(keyID)
	if err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindKey,
		Operation: OpDelete,
		TargetID:  &key.ID,
		BasedOn: encode(KeyBasedOn{
			KeyID:            key.ID,
			FeatureVersionID: key.FeatureVersionID,
			Name:             key.Name,
			Validators:       []byte(key.Validators),
		}),
	})
}

// ---- staging: links ----

type StageLinkInput struct {
	ChangesetID      *int64 `json:"changeset_id"`
	FeatureVersionID int64  `json:"feature_version_id" binding:"required"`
	ServiceVersionID int64  `json:"service_version_id" binding:"required"`
}

func (s *ChangesetService) StageLink(userID uint, input StageLinkInput) (*Change, error) {
	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}
	return s.appendChange(cs, Change{
		Kind:      KindLink,
		Operation: OpCreate,
		Payload: encode(LinkPayload{
			FeatureVersionID: input.FeatureVersionID,
			ServiceVersionID: input.ServiceVersionID,
		}),
	})
}

func (s *ChangesetService) StageUnlink(userID uint, input StageLinkInput) (*Change, error) {
	cs, err := s.currentOrNew(userID, input.ChangesetID)
	if err != nil {
		return nil, err
	}
	return s.appendChange(cs, Change{
		Kind:      KindLink,
		Operation: OpDelete,
		Payload: encode(LinkPayload{
			FeatureVersionID: input.FeatureVersionID,
			ServiceVersionID: input.ServiceVersionID,
		}),
	})
}

// ---- staging: versions ----

func (s *ChangesetService) StageFeatureVersionCreate(userID uint, featureID int64, changesetID *int64) (*Change, error) {
	var latest configtree.FeatureVersion
	err := s.DB.Where("feature_id = ? AND is_last_version = ? AND is_delete = ?", featureID, true, false).
		First(&latest).Error
	if err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindFeatureVersion,
		Operation: OpCreate,
		BasedOn:   encode(VersionBasedOn{LatestVersion: latest.Version}),
		Payload: encode(VersionPayload{
			ParentID:   featureID,
			NewVersion: latest.Version + 1,
		}),
	})
}

func (s *ChangesetService) StageFeatureVersionDelete(userID uint, featureVersionID int64, changesetID *int64) (*Change, error) {
	var fv configtree.FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", featureVersionID, false).
		First(&fv).Error; err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindFeatureVersion,
		Operation: OpDelete,
		TargetID:  &fv.ID,
		BasedOn:   encode(VersionBasedOn{TargetID: fv.ID, LatestVersion: fv.Version}),
	})
}

func (s *ChangesetService) StageServiceVersionCreate(userID uint, serviceID int64, changesetID *int64) (*Change, error) {
	var latest configtree.ServiceVersion
	err := s.DB.Where("service_id = ? AND is_last_version = ? AND is_delete = ?", serviceID, true, false).
		First(&latest).Error
	if err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindServiceVersion,
		Operation: OpCreate,
		BasedOn:   encode(VersionBasedOn{LatestVersion: latest.Version}),
		Payload: encode(VersionPayload{
			ParentID:   serviceID,
			NewVersion: latest.Version + 1,
		}),
	})
}

func (s *ChangesetService) StageServiceVersionDelete(userID uint, serviceVersionID int64, changesetID *int64) (*Change, error) {
	var sv configtree.ServiceVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", serviceVersionID, false).
		First(&sv).Error; err != nil {
		return nil, err
	}

	cs, err := s.currentOrNew(userID, changesetID)
	if err != nil {
		return nil, err
	}

	return s.appendChange(cs, Change{
		Kind:      KindServiceVersion,
		Operation: OpDelete,
		TargetID:  &sv.ID,
		BasedOn:   encode(VersionBasedOn{TargetID: sv.ID, LatestVersion: sv.Version}),
	})
}

// ---- reads ----

func (s *ChangesetService) buildView(cs *Changeset) (*ChangesetView, error) {
	var changes []Change
	if err := s.DB.Where("changeset_id = ?", cs.ID).
		Order("position asc, id asc").
		Find(&changes).Error; err != nil {
		return nil, err
	}

	view := ChangesetView{Changeset: *cs, Changes: make([]ChangeView, 0, len(changes))}
	for i := range changes {
		// Conflicts only exist for pending work. An applied changeset's own
		// writes would otherwise re-register as conflicts against themselves.
		var conflict *Conflict
		if !cs.State.Terminal() {
			var err error
			conflict, err = detectConflict(s.DB, &changes[i])
			if err != nil {
				return nil, err
			}
		}
		if conflict != nil {
			view.ConflictCount++
		}
		view.Changes = append(view.Changes, ChangeView{Change: changes[i], Conflict: conflict})
	}

	if err := s.DB.Where("changeset_id = ?", cs.ID).
		Order("created_at asc, id asc").
		Find(&view.Actions).Error; err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *ChangesetService) GetByID(id int64) (*ChangesetView, error) {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return nil, err
	}
	return s.buildView(&cs)
}

// GetCurrent returns the user's open changeset or nil.
func (s *ChangesetService) GetCurrent(userID uint) (*ChangesetView, error) {
	var cs Changeset
	err := s.DB.Where("user_id = ? AND state = ?", userID, StateOpen).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.buildView(&cs)
}

func (s *ChangesetService) ListByAuthor(userID uint) ([]ChangesetView, error) {
	var sets []Changeset
	if err := s.DB.Where("user_id = ?", userID).Order("id desc").Find(&sets).Error; err != nil {
		return nil, err
	}
	return s.buildViews(sets)
}

// ListApprovable returns committed changesets awaiting review.
func (s *ChangesetService) ListApprovable() ([]ChangesetView, error) {
	var sets []Changeset
	if err := s.DB.Where("state = ?", StateCommitted).Order("id desc").Find(&sets).Error; err != nil {
		return nil, err
	}
	return s.buildViews(sets)
}

func (s *ChangesetService) buildViews(sets []Changeset) ([]ChangesetView, error) {
	views := make([]ChangesetView, 0, len(sets))
	for i := range sets {
		v, err := s.buildView(&sets[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// ---- state machine ----

func (s *ChangesetService) conflictCount(cs *Changeset) (int, error) {
	view, err := s.buildView(cs)
	if err != nil {
		return 0, err
	}
	return view.ConflictCount, nil
}

func (s *ChangesetService) logAction(db *gorm.DB, cs *Changeset, userID uint, action ActionType, comment string) error {
	return db.Create(&Action{
		ChangesetID: cs.ID,
		UserID:      userID,
		Type:        action,
		Comment:     comment,
	}).Error
}

func (s *ChangesetService) setState(db *gorm.DB, cs *Changeset, state State) error {
	return db.Model(cs).Update("state", state).Error
}

// Commit marks an open, conflict-free changeset ready for review.
func (s *ChangesetService) Commit(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.State != StateOpen {
		return ErrStateTransition
	}

	count, err := s.conflictCount(&cs)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrHasConflicts
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.setState(tx, &cs, StateCommitted); err != nil {
			return err
		}
		return s.logAction(tx, &cs, userID, ActionCommit, comment)
	})
}

// Stash sets aside an open or committed changeset. Owner only.
func (s *ChangesetService) Stash(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.UserID != userID {
		return ErrNotOwner
	}
	if cs.State != StateOpen && cs.State != StateCommitted {
		return ErrStateTransition
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.setState(tx, &cs, StateStashed); err != nil {
			return err
		}
		return s.logAction(tx, &cs, userID, ActionStash, comment)
	})
}

// Reopen brings a committed or stashed changeset back to open. Owner only.
// Another open changeset for the same user blocks the reopen.
func (s *ChangesetService) Reopen(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.UserID != userID {
		return ErrNotOwner
	}
	if cs.State != StateCommitted && cs.State != StateStashed {
		return ErrStateTransition
	}

	var open Changeset
	err := s.DB.Where("user_id = ? AND state = ? AND id <> ?", userID, StateOpen, cs.ID).
		First(&open).Error
	if err == nil {
		return fmt.Errorf("user already has an open changeset: %w", ErrStateTransition)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.setState(tx, &cs, StateOpen); err != nil {
			return err
		}
		return s.logAction(tx, &cs, userID, ActionReopen, comment)
	})
}

// Discard releases a changeset without touching the tree. Owner only.
func (s *ChangesetService) Discard(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.UserID != userID {
		return ErrNotOwner
	}
	if cs.State != StateOpen && cs.State != StateCommitted && cs.State != StateStashed {
		return ErrStateTransition
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.setState(tx, &cs, StateDiscarded); err != nil {
			return err
		}
		return s.logAction(tx, &cs, userID, ActionDiscard, comment)
	})
}

// Comment appends a note to any non-terminal changeset.
func (s *ChangesetService) Comment(userID uint, id int64, comment string) error {
	var cs Changeset
	if err := s.DB.First(&cs, id).Error; err != nil {
		return err
	}
	if cs.State.Terminal() {
		return ErrStateTransition
	}
	return s.logAction(s.DB, &cs, userID, ActionComment, comment)
}

// DiscardChange removes a single staged change while the changeset stays
// open. The key-create change carries its default value with it, so that
// default can never be dropped on its own.
func (s *ChangesetService) DiscardChange(userID uint, changesetID, changeID int64) error {
	var cs Changeset
	if err := s.DB.First(&cs, changesetID).Error; err != nil {
		return err
	}
	if cs.UserID != userID {
		return ErrNotOwner
	}
	if cs.State != StateOpen {
		return ErrChangesetNotOpen
	}

	var change Change
	if err := s.DB.Where("id = ? AND changeset_id = ?", changeID, changesetID).
		First(&change).Error; err != nil {
		return err
	}

	return s.DB.Delete(&change).Error
}
