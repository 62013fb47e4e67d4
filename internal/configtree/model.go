package configtree

import (
	"encoding/json"
	"time"

	"feature-config-api/internal/validation"
	"feature-config-api/internal/variation"

	"gorm.io/datatypes"
)

type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeDecimal ValueType = "decimal"
	TypeBoolean ValueType = "boolean"
	TypeJSON    ValueType = "json"
)

type ServiceType struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:text;not null;uniqueIndex"`
}

func (ServiceType) TableName() string { return "service_type" }

type Service struct {
	ID            int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ServiceTypeID int64  `json:"service_type_id" gorm:"not null;index"`
	Name          string `json:"name" gorm:"type:text;not null"`
	IsDelete      bool   `json:"is_delete" gorm:"not null;default:false"`
}

func (Service) TableName() string { return "service" }

// ServiceVersion is one version of a service's feature set. Once Published
// it freezes structural deletes (keys, links, values) within its scope.
type ServiceVersion struct {
	ID            int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	ServiceID     int64 `json:"service_id" gorm:"not null;index"`
	Version       int   `json:"version" gorm:"not null;default:1"`
	Published     bool  `json:"published" gorm:"not null;default:false"`
	IsLastVersion bool  `json:"is_last_version" gorm:"not null;default:true"`
	IsDelete      bool  `json:"is_delete" gorm:"not null;default:false"`
}

func (ServiceVersion) TableName() string { return "service_version" }

type Feature struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name     string `json:"name" gorm:"type:text;not null"`
	IsDelete bool   `json:"is_delete" gorm:"not null;default:false"`
}

func (Feature) TableName() string { return "feature" }

type FeatureVersion struct {
	ID            int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	FeatureID     int64 `json:"feature_id" gorm:"not null;index"`
	Version       int   `json:"version" gorm:"not null;default:1"`
	IsLastVersion bool  `json:"is_last_version" gorm:"not null;default:true"`
	IsDelete      bool  `json:"is_delete" gorm:"not null;default:false"`
}

func (FeatureVersion) TableName() string { return "feature_version" }

// FeatureVersionLink attaches a feature version to a service version.
type FeatureVersionLink struct {
	ID               int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	FeatureVersionID int64 `json:"feature_version_id" gorm:"not null;index"`
	ServiceVersionID int64 `json:"service_version_id" gorm:"not null;index"`
	IsDelete         bool  `json:"is_delete" gorm:"not null;default:false"`
}

func (FeatureVersionLink) TableName() string { return "feature_version_link" }

// Key is a typed configuration key. Validators holds the ordered chain as
// JSON; name is unique among live keys of its feature version.
type Key struct {
	ID               int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	FeatureVersionID int64          `json:"feature_version_id" gorm:"not null;index"`
	Name             string         `json:"name" gorm:"type:text;not null"`
	ValueType        ValueType      `json:"value_type" gorm:"type:text;not null"`
	Validators       datatypes.JSON `json:"validators"`
	IsDelete         bool           `json:"is_delete" gorm:"not null;default:false"`
}

func (Key) TableName() string { return "key" }

func (k *Key) ValidatorChain() ([]validation.Def, error) {
	if len(k.Validators) == 0 {
		return nil, nil
	}
	var chain []validation.Def
	if err := json.Unmarshal(k.Validators, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// Value carries string-encoded data scoped by a variation selector. Exactly
// one live value per key has the empty selector; it is the default and is
// never deletable. Position preserves insertion order.
type Value struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	KeyID     int64          `json:"key_id" gorm:"not null;index"`
	Selector  datatypes.JSON `json:"selector"`
	Data      string         `json:"data" gorm:"type:text"`
	Position  int            `json:"position" gorm:"not null;default:0"`
	IsDelete  bool           `json:"is_delete" gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;autoCreateTime"`
}

func (Value) TableName() string { return "value" }

func (v *Value) DecodeSelector() (variation.Selector, error) {
	if len(v.Selector) == 0 {
		return variation.Selector{}, nil
	}
	var sel variation.Selector
	if err := json.Unmarshal(v.Selector, &sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func EncodeSelector(sel variation.Selector) datatypes.JSON {
	if sel == nil {
		sel = variation.Selector{}
	}
	data, _ := json.Marshal(sel)
	return datatypes.JSON(data)
}

// Models lists every tree model for migration.
func Models() []interface{} {
	return []interface{}{
		&ServiceType{}, &Service{}, &ServiceVersion{},
		&Feature{}, &FeatureVersion{}, &FeatureVersionLink{},
		&Key{}, &Value{},
	}
}
