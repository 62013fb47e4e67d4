package changeset

import (
	"encoding/json"
	"time"

	"feature-config-api/internal/validation"
	"feature-config-api/internal/variation"

	"gorm.io/datatypes"
)

type State string

const (
	StateOpen      State = "open"
	StateCommitted State = "committed"
	StateStashed   State = "stashed"
	StateApplied   State = "applied"
	StateDiscarded State = "discarded"
)

func (s State) Terminal() bool {
	return s == StateApplied || s == StateDiscarded
}

type ChangeKind string

const (
	KindServiceVersion ChangeKind = "service_version"
	KindFeatureVersion ChangeKind = "feature_version"
	KindLink           ChangeKind = "feature_version_service_version_link"
	KindKey            ChangeKind = "key"
	KindVariationValue ChangeKind = "variation_value"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type ActionType string

const (
	ActionApply   ActionType = "apply"
	ActionCommit  ActionType = "commit"
	ActionReopen  ActionType = "reopen"
	ActionStash   ActionType = "stash"
	ActionDiscard ActionType = "discard"
	ActionComment ActionType = "comment"
)

// Changeset is the per-user staging area. One open changeset per user,
// created implicitly by the first staged edit.
type Changeset struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID      string    `json:"uuid" gorm:"type:text;not null;uniqueIndex"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	State     State     `json:"state" gorm:"type:text;not null;default:open"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime"`
}

func (Changeset) TableName() string { return "changeset" }

// Change is one staged create/update/delete intent. BasedOn captures the
// target's relevant fields at staging time; Payload carries the new field
// values, decoded per kind. Position fixes replay order.
type Change struct {
	ID          int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	ChangesetID int64          `json:"changeset_id" gorm:"not null;index"`
	Kind        ChangeKind     `json:"kind" gorm:"type:text;not null"`
	Operation   Operation      `json:"operation" gorm:"type:text;not null"`
	TargetID    *int64         `json:"target_id"`
	BasedOn     datatypes.JSON `json:"based_on"`
	Payload     datatypes.JSON `json:"payload"`
	Position    int            `json:"position" gorm:"not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
}

func (Change) TableName() string { return "change" }

// Action is one audit-log entry on a changeset.
type Action struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChangesetID int64      `json:"changeset_id" gorm:"not null;index"`
	UserID      uint       `json:"user_id" gorm:"not null"`
	Type        ActionType `json:"type" gorm:"type:text;not null"`
	Comment     string     `json:"comment" gorm:"type:text"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;autoCreateTime"`
}

func (Action) TableName() string { return "changeset_action" }

// ---- per-kind payloads (the sum type behind Change.Payload / Change.BasedOn) ----

type ValuePayload struct {
	KeyID    int64              `json:"key_id"`
	Selector variation.Selector `json:"selector"`
	Data     string             `json:"data"`
}

type ValueBasedOn struct {
	ValueID    int64              `json:"value_id,omitempty"`
	KeyID      int64              `json:"key_id"`
	Selector   variation.Selector `json:"selector,omitempty"`
	Data       string             `json:"data,omitempty"`
	Validators json.RawMessage    `json:"validators,omitempty"`
}

type KeyPayload struct {
	FeatureVersionID int64             `json:"feature_version_id"`
	Name             string            `json:"name"`
	ValueType        string            `json:"value_type,omitempty"`
	Chain            []validation.Def  `json:"chain,omitempty"`
	DefaultData      string            `json:"default_data,omitempty"`
	NewName          *string           `json:"new_name,omitempty"`
	NewChain         *[]validation.Def `json:"new_chain,omitempty"`
}

type KeyBasedOn struct {
	KeyID            int64           `json:"key_id,omitempty"`
	FeatureVersionID int64           `json:"feature_version_id"`
	Name             string          `json:"name,omitempty"`
	Validators       json.RawMessage `json:"validators,omitempty"`
}

type LinkPayload struct {
	FeatureVersionID int64 `json:"feature_version_id"`
	ServiceVersionID int64 `json:"service_version_id"`
}

type VersionPayload struct {
	ParentID   int64 `json:"parent_id"`   // feature id or service id
	NewVersion int   `json:"new_version"` // captured at staging time
}

type VersionBasedOn struct {
	TargetID      int64 `json:"target_id,omitempty"`
	LatestVersion int   `json:"latest_version"`
}

func encode(v interface{}) datatypes.JSON {
	data, _ := json.Marshal(v)
	return datatypes.JSON(data)
}

func (c *Change) ValuePayload() (*ValuePayload, error) {
	var p ValuePayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Change) ValueBasedOn() (*ValueBasedOn, error) {
	var b ValueBasedOn
	if err := json.Unmarshal(c.BasedOn, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Change) KeyPayload() (*KeyPayload, error) {
	var p KeyPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Change) KeyBasedOn() (*KeyBasedOn, error) {
	var b KeyBasedOn
	if err := json.Unmarshal(c.BasedOn, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Change) LinkPayload() (*LinkPayload, error) {
	var p LinkPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Change) VersionPayload() (*VersionPayload, error) {
	var p VersionPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---- conflicts (derived, never persisted) ----

type ConflictKind string

const (
	ConflictNewValueDuplicateVariation ConflictKind = "new_value_duplicate_variation"
	ConflictOldValueUpdated            ConflictKind = "old_value_updated"
	ConflictOldValueDeleted            ConflictKind = "old_value_deleted"
	ConflictValueInDeletedKey          ConflictKind = "value_in_deleted_key"
	ConflictValueInDeletedFeature      ConflictKind = "value_in_deleted_feature"
	ConflictKeyValidatorsUpdated       ConflictKind = "key_validators_updated"
	ConflictKeyInDeletedFeature        ConflictKind = "key_in_deleted_feature"
	ConflictKeyDuplicateName           ConflictKind = "key_duplicate_name"
	ConflictDuplicateLink              ConflictKind = "duplicate_link"
	ConflictDeletedLink                ConflictKind = "deleted_link"
	ConflictInconsistentFeatureVersion ConflictKind = "inconsistent_feature_version"
	ConflictInconsistentServiceVersion ConflictKind = "inconsistent_service_version"
	ConflictChangeInPublishedVersion   ConflictKind = "change_in_published_service_version"
)

// Conflict is a read-time derivation comparing a change's based-on snapshot
// to current tree state. Existing carries the state needed to render and
// resolve it.
type Conflict struct {
	Kind     ConflictKind   `json:"kind"`
	Existing datatypes.JSON `json:"existing,omitempty"`
}

// ---- read views ----

type ChangeView struct {
	Change
	Conflict *Conflict `json:"conflict,omitempty"`
}

type ChangesetView struct {
	Changeset
	Changes       []ChangeView `json:"changes"`
	Actions       []Action     `json:"actions"`
	ConflictCount int          `json:"conflict_count"`
}

// Models lists the engine's models for migration.
func Models() []interface{} {
	return []interface{}{&Changeset{}, &Change{}, &Action{}}
}
