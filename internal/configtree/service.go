package configtree

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"feature-config-api/internal/validation"
	"feature-config-api/internal/variation"

	"gorm.io/gorm"
)

type TreeService struct {
	DB *gorm.DB
}

// WithTx returns a view of the service bound to a transaction, so the
// changeset engine can replay changes inside one atomic unit.
func (s *TreeService) WithTx(tx *gorm.DB) *TreeService {
	return &TreeService{DB: tx}
}

// ---- bootstrap / administration ----

func (s *TreeService) CreateServiceType(name string) (*ServiceType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	st := ServiceType{Name: name}
	if err := s.DB.Create(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateService creates the service together with its initial version.
func (s *TreeService) CreateService(serviceTypeID int64, name string) (*Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	var st ServiceType
	if err := s.DB.First(&st, serviceTypeID).Error; err != nil {
		return nil, fmt.Errorf("service type not found: %w", err)
	}

	svc := Service{ServiceTypeID: serviceTypeID, Name: name}
	if err := s.DB.Create(&svc).Error; err != nil {
		return nil, err
	}

	sv := ServiceVersion{ServiceID: svc.ID, Version: 1, IsLastVersion: true}
	if err := s.DB.Create(&sv).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

// CreateFeature creates the feature together with its initial version.
func (s *TreeService) CreateFeature(name string) (*Feature, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	feature := Feature{Name: name}
	if err := s.DB.Create(&feature).Error; err != nil {
		return nil, err
	}

	fv := FeatureVersion{FeatureID: feature.ID, Version: 1, IsLastVersion: true}
	if err := s.DB.Create(&fv).Error; err != nil {
		return nil, err
	}
	return &feature, nil
}

func (s *TreeService) PublishServiceVersion(id int64) (*ServiceVersion, error) {
	var sv ServiceVersion
	if err := s.DB.First(&sv, id).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&sv).Update("published", true).Error; err != nil {
		return nil, err
	}
	return &sv, nil
}

// ---- reads ----

type KeyView struct {
	Key
	Values []Value `json:"values"`
}

type FeatureVersionView struct {
	FeatureVersion
	Keys []KeyView `json:"keys"`
}

type ServiceView struct {
	Service
	Versions []ServiceVersion `json:"versions"`
}

func (s *TreeService) ListServices() ([]ServiceView, error) {
	var services []Service
	if err := s.DB.Where("is_delete = ?", false).Order("id asc").Find(&services).Error; err != nil {
		return nil, err
	}

	views := make([]ServiceView, 0, len(services))
	for _, svc := range services {
		var versions []ServiceVersion
		if err := s.DB.Where("service_id = ? AND is_delete = ?", svc.ID, false).
			Order("version asc").
			Find(&versions).Error; err != nil {
			return nil, err
		}
		views = append(views, ServiceView{Service: svc, Versions: versions})
	}
	return views, nil
}

func (s *TreeService) GetFeatureVersion(id int64) (*FeatureVersionView, error) {
	var fv FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&fv).Error; err != nil {
		return nil, err
	}

	var keys []Key
	if err := s.DB.Where("feature_version_id = ? AND is_delete = ?", id, false).
		Order("id asc").
		Find(&keys).Error; err != nil {
		return nil, err
	}

	view := FeatureVersionView{FeatureVersion: fv, Keys: make([]KeyView, 0, len(keys))}
	for _, k := range keys {
		values, err := s.LiveValues(k.ID)
		if err != nil {
			return nil, err
		}
		view.Keys = append(view.Keys, KeyView{Key: k, Values: values})
	}
	return &view, nil
}

func (s *TreeService) GetKey(id int64) (*KeyView, error) {
	var key Key
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&key).Error; err != nil {
		return nil, err
	}
	values, err := s.LiveValues(id)
	if err != nil {
		return nil, err
	}
	return &KeyView{Key: key, Values: values}, nil
}

func (s *TreeService) LiveValues(keyID int64) ([]Value, error) {
	var values []Value
	err := s.DB.Where("key_id = ? AND is_delete = ?", keyID, false).
		Order("position asc, id asc").
		Find(&values).Error
	if err != nil {
		return nil, err
	}
	return values, nil
}

// PropsForKey walks key → feature version → live link → service version →
// service → service type to find the property set governing specificity.
// A key not yet linked anywhere falls back to the global property order,
// which is still deterministic.
func (s *TreeService) PropsForKey(keyID int64) ([]variation.VariationProperty, error) {
	var key Key
	if err := s.DB.First(&key, keyID).Error; err != nil {
		return nil, err
	}

	var link FeatureVersionLink
	err := s.DB.Where("feature_version_id = ? AND is_delete = ?", key.FeatureVersionID, false).
		Order("id asc").
		First(&link).Error

	var props []variation.VariationProperty
	if err == nil {
		var sv ServiceVersion
		if err := s.DB.First(&sv, link.ServiceVersionID).Error; err != nil {
			return nil, err
		}
		var svc Service
		if err := s.DB.First(&svc, sv.ServiceID).Error; err != nil {
			return nil, err
		}
		err = s.DB.Where("service_type_id = ?", svc.ServiceTypeID).
			Order("priority asc, id asc").
			Find(&props).Error
		if err != nil {
			return nil, err
		}
		return props, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.DB.Order("priority asc, id asc").Find(&props).Error; err != nil {
		return nil, err
	}
	return props, nil
}

// ResolveValue returns the live value whose selector matches the context
// most specifically. Total whenever the key's default value exists.
func (s *TreeService) ResolveValue(keyID int64, ctx variation.Selector) (*Value, error) {
	values, err := s.LiveValues(keyID)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, variation.ErrNoMatch
	}

	selectors := make([]variation.Selector, len(values))
	for i := range values {
		sel, err := values[i].DecodeSelector()
		if err != nil {
			return nil, err
		}
		selectors[i] = sel
	}

	props, err := s.PropsForKey(keyID)
	if err != nil {
		return nil, err
	}

	idx, err := variation.Resolve(selectors, ctx, props)
	if err != nil {
		return nil, err
	}
	return &values[idx], nil
}

// ---- value acceptance ----

func impliedDefs(t ValueType) []validation.Def {
	switch t {
	case TypeInteger:
		return []validation.Def{{Type: validation.ValidInteger}}
	case TypeDecimal:
		return []validation.Def{{Type: validation.ValidDecimal}}
	case TypeJSON:
		return []validation.Def{{Type: validation.ValidJSON}}
	case TypeBoolean:
		return []validation.Def{{
			Type:      validation.Regex,
			Parameter: "^(true|false)$",
			ErrorText: "value must be true or false",
		}}
	}
	return nil
}

// CheckValueData runs the key's type check followed by its validator chain.
func (s *TreeService) CheckValueData(key *Key, raw string) *validation.Failure {
	if f := validation.Validate(raw, impliedDefs(key.ValueType)); f != nil {
		return f
	}
	chain, err := key.ValidatorChain()
	if err != nil {
		return &validation.Failure{Message: "validator chain is malformed"}
	}
	return validation.Validate(raw, chain)
}

// SelectorSelectable verifies every concrete value in a selector exists,
// belongs to its property, and is not hidden by an archive. Only applied to
// selectors being created now; existing selectors keep resolving regardless.
func (s *TreeService) SelectorSelectable(sel variation.Selector) error {
	for propID, valueID := range sel {
		id := valueID
		for {
			var v variation.VariationPropertyValue
			if err := s.DB.First(&v, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrValueNotSelectable
				}
				return err
			}
			if id == valueID && v.PropertyID != propID {
				return ErrValueNotSelectable
			}
			if v.Archived {
				return ErrValueNotSelectable
			}
			if v.ParentID == nil {
				break
			}
			id = *v.ParentID
		}
	}
	return nil
}

// FindLiveValueBySelector returns the live value under the key carrying an
// equal selector, or nil.
func (s *TreeService) FindLiveValueBySelector(keyID int64, sel variation.Selector) (*Value, error) {
	values, err := s.LiveValues(keyID)
	if err != nil {
		return nil, err
	}
	for i := range values {
		existing, err := values[i].DecodeSelector()
		if err != nil {
			return nil, err
		}
		if existing.Equal(sel) {
			return &values[i], nil
		}
	}
	return nil, nil
}

// InPublishedScope reports whether a feature version is live-linked to a
// published service version.
func (s *TreeService) InPublishedScope(featureVersionID int64) (bool, error) {
	var links []FeatureVersionLink
	err := s.DB.Where("feature_version_id = ? AND is_delete = ?", featureVersionID, false).
		Find(&links).Error
	if err != nil {
		return false, err
	}
	for _, l := range links {
		var sv ServiceVersion
		if err := s.DB.First(&sv, l.ServiceVersionID).Error; err != nil {
			return false, err
		}
		if !sv.IsDelete && sv.Published {
			return true, nil
		}
	}
	return false, nil
}

// ---- writes (reached only through changeset apply) ----

type KeyInput struct {
	FeatureVersionID int64
	Name             string
	ValueType        ValueType
	Chain            []validation.Def
	DefaultData      string
}

func (s *TreeService) CreateServiceVersion(serviceID int64, expectedVersion int) (*ServiceVersion, error) {
	var latest ServiceVersion
	err := s.DB.Where("service_id = ? AND is_last_version = ? AND is_delete = ?", serviceID, true, false).
		First(&latest).Error
	if err != nil {
		return nil, err
	}
	if latest.Version+1 != expectedVersion {
		return nil, ErrVersionRace
	}

	if err := s.DB.Model(&latest).Update("is_last_version", false).Error; err != nil {
		return nil, err
	}

	next := ServiceVersion{ServiceID: serviceID, Version: expectedVersion, IsLastVersion: true}
	if err := s.DB.Create(&next).Error; err != nil {
		return nil, err
	}

	// The new version starts from the current definition: copy live links.
	var links []FeatureVersionLink
	if err := s.DB.Where("service_version_id = ? AND is_delete = ?", latest.ID, false).
		Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		copied := FeatureVersionLink{
			FeatureVersionID: l.FeatureVersionID,
			ServiceVersionID: next.ID,
		}
		if err := s.DB.Create(&copied).Error; err != nil {
			return nil, err
		}
	}
	return &next, nil
}

func (s *TreeService) DeleteServiceVersion(id int64) error {
	var sv ServiceVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&sv).Error; err != nil {
		return err
	}
	if sv.Published {
		return ErrPublished
	}

	if err := s.DB.Model(&sv).Update("is_delete", true).Error; err != nil {
		return err
	}
	if err := s.DB.Model(&FeatureVersionLink{}).
		Where("service_version_id = ?", sv.ID).
		Update("is_delete", true).Error; err != nil {
		return err
	}

	// Hand the latest marker back to the newest surviving version.
	if sv.IsLastVersion {
		var prev ServiceVersion
		err := s.DB.Where("service_id = ? AND is_delete = ?", sv.ServiceID, false).
			Order("version desc").
			First(&prev).Error
		if err == nil {
			if err := s.DB.Model(&prev).Update("is_last_version", true).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

func (s *TreeService) CreateFeatureVersion(featureID int64, expectedVersion int) (*FeatureVersion, error) {
	var latest FeatureVersion
	err := s.DB.Where("feature_id = ? AND is_last_version = ? AND is_delete = ?", featureID, true, false).
		First(&latest).Error
	if err != nil {
		return nil, err
	}
	if latest.Version+1 != expectedVersion {
		return nil, ErrVersionRace
	}

	if err := s.DB.Model(&latest).Update("is_last_version", false).Error; err != nil {
		return nil, err
	}

	next := FeatureVersion{FeatureID: featureID, Version: expectedVersion, IsLastVersion: true}
	if err := s.DB.Create(&next).Error; err != nil {
		return nil, err
	}

	// Copy the definition forward: keys with their live values.
	var keys []Key
	if err := s.DB.Where("feature_version_id = ? AND is_delete = ?", latest.ID, false).
		Order("id asc").
		Find(&keys).Error; err != nil {
		return nil, err
	}
	for _, k := range keys {
		copied := Key{
			FeatureVersionID: next.ID,
			Name:             k.Name,
			ValueType:        k.ValueType,
			Validators:       k.Validators,
		}
		if err := s.DB.Create(&copied).Error; err != nil {
			return nil, err
		}

		values, err := s.LiveValues(k.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			cv := Value{
				KeyID:    copied.ID,
				Selector: v.Selector,
				Data:     v.Data,
				Position: v.Position,
			}
			if err := s.DB.Create(&cv).Error; err != nil {
				return nil, err
			}
		}
	}
	return &next, nil
}

func (s *TreeService) DeleteFeatureVersion(id int64) error {
	var fv FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&fv).Error; err != nil {
		return err
	}

	published, err := s.InPublishedScope(fv.ID)
	if err != nil {
		return err
	}
	if published {
		return ErrPublished
	}

	if err := s.DB.Model(&fv).Update("is_delete", true).Error; err != nil {
		return err
	}
	if err := s.DB.Model(&FeatureVersionLink{}).
		Where("feature_version_id = ?", fv.ID).
		Update("is_delete", true).Error; err != nil {
		return err
	}

	if fv.IsLastVersion {
		var prev FeatureVersion
		err := s.DB.Where("feature_id = ? AND is_delete = ?", fv.FeatureID, false).
			Order("version desc").
			First(&prev).Error
		if err == nil {
			if err := s.DB.Model(&prev).Update("is_last_version", true).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

func (s *TreeService) CreateLink(featureVersionID, serviceVersionID int64) (*FeatureVersionLink, error) {
	var fv FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", featureVersionID, false).First(&fv).Error; err != nil {
		return nil, err
	}
	var sv ServiceVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", serviceVersionID, false).First(&sv).Error; err != nil {
		return nil, err
	}

	var existing FeatureVersionLink
	err := s.DB.Where("feature_version_id = ? AND service_version_id = ? AND is_delete = ?",
		featureVersionID, serviceVersionID, false).
		First(&existing).Error
	if err == nil {
		return nil, ErrDuplicateLink
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	link := FeatureVersionLink{FeatureVersionID: featureVersionID, ServiceVersionID: serviceVersionID}
	if err := s.DB.Create(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *TreeService) DeleteLink(featureVersionID, serviceVersionID int64) error {
	var link FeatureVersionLink
	err := s.DB.Where("feature_version_id = ? AND service_version_id = ? AND is_delete = ?",
		featureVersionID, serviceVersionID, false).
		First(&link).Error
	if err != nil {
		return err
	}

	var sv ServiceVersion
	if err := s.DB.First(&sv, serviceVersionID).Error; err != nil {
		return err
	}
	if sv.Published {
		return ErrPublished
	}

	return s.DB.Model(&link).Update("is_delete", true).Error
}

// CreateKey creates the key and its default (empty selector) value in one go.
func (s *TreeService) CreateKey(input KeyInput) (*Key, error) {
	var fv FeatureVersion
	if err := s.DB.Where("id = ? AND is_delete = ?", input.FeatureVersionID, false).
		First(&fv).Error; err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("key name is required")
	}

	var existing Key
	err := s.DB.Where("feature_version_id = ? AND name = ? AND is_delete = ?",
		input.FeatureVersionID, name, false).
		First(&existing).Error
	if err == nil {
		return nil, ErrDuplicateName
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := validation.CheckChain(input.Chain); err != nil {
		return nil, err
	}

	chainJSON, err := json.Marshal(input.Chain)
	if err != nil {
		return nil, err
	}

	key := Key{
		FeatureVersionID: input.FeatureVersionID,
		Name:             name,
		ValueType:        input.ValueType,
		Validators:       chainJSON,
	}

	if f := s.CheckValueData(&key, input.DefaultData); f != nil {
		return nil, f
	}

	if err := s.DB.Create(&key).Error; err != nil {
		return nil, err
	}

	def := Value{
		KeyID:    key.ID,
		Selector: EncodeSelector(variation.Selector{}),
		Data:     input.DefaultData,
		Position: 0,
	}
	if err := s.DB.Create(&def).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *TreeService) UpdateKey(id int64, name *string, chain *[]validation.Def) (*Key, error) {
	var key Key
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&key).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, errors.New("key name is required")
		}
		if trimmed != key.Name {
			var existing Key
			err := s.DB.Where("feature_version_id = ? AND name = ? AND is_delete = ? AND id <> ?",
				key.FeatureVersionID, trimmed, false, key.ID).
				First(&existing).Error
			if err == nil {
				return nil, ErrDuplicateName
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
		updates["name"] = trimmed
	}
	if chain != nil {
		if err := validation.CheckChain(*chain); err != nil {
			return nil, err
		}
		chainJSON, err := json.Marshal(*chain)
		if err != nil {
			return nil, err
		}
		updates["validators"] = chainJSON
	}
	if len(updates) == 0 {
		return &key, nil
	}

	if err := s.DB.Model(&key).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *TreeService) DeleteKey(id int64) error {
	var key Key
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&key).Error; err != nil {
		return err
	}

	published, err := s.InPublishedScope(key.FeatureVersionID)
	if err != nil {
		return err
	}
	if published {
		return ErrPublished
	}

	if err := s.DB.Model(&key).Update("is_delete", true).Error; err != nil {
		return err
	}
	return s.DB.Model(&Value{}).Where("key_id = ?", key.ID).Update("is_delete", true).Error
}

func (s *TreeService) CreateValue(keyID int64, sel variation.Selector, data string) (*Value, error) {
	var key Key
	if err := s.DB.Where("id = ? AND is_delete = ?", keyID, false).First(&key).Error; err != nil {
		return nil, err
	}

	existing, err := s.FindLiveValueBySelector(keyID, sel)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrSelectorCollision
	}

	if err := s.SelectorSelectable(sel); err != nil {
		return nil, err
	}

	if f := s.CheckValueData(&key, data); f != nil {
		return nil, f
	}

	var maxPos int
	row := s.DB.Model(&Value{}).
		Where("key_id = ?", keyID).
		Select("COALESCE(MAX(position), 0)").
		Row()
	if err := row.Scan(&maxPos); err != nil {
		return nil, err
	}

	value := Value{
		KeyID:    keyID,
		Selector: EncodeSelector(sel),
		Data:     data,
		Position: maxPos + 1,
	}
	if err := s.DB.Create(&value).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

func (s *TreeService) UpdateValue(id int64, data string) (*Value, error) {
	var value Value
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&value).Error; err != nil {
		return nil, err
	}

	var key Key
	if err := s.DB.First(&key, value.KeyID).Error; err != nil {
		return nil, err
	}
	if f := s.CheckValueData(&key, data); f != nil {
		return nil, f
	}

	if err := s.DB.Model(&value).Update("data", data).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

func (s *TreeService) DeleteValue(id int64) error {
	var value Value
	if err := s.DB.Where("id = ? AND is_delete = ?", id, false).First(&value).Error; err != nil {
		return err
	}

	sel, err := value.DecodeSelector()
	if err != nil {
		return err
	}
	if len(sel) == 0 {
		return ErrDefaultValueImmutable
	}

	var key Key
	if err := s.DB.First(&key, value.KeyID).Error; err != nil {
		return err
	}
	published, err := s.InPublishedScope(key.FeatureVersionID)
	if err != nil {
		return err
	}
	if published {
		return ErrPublished
	}

	return s.DB.Model(&value).Update("is_delete", true).Error
}
