package variation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

type VariationService struct {
	DB *gorm.DB
}

type CreatePropertyInput struct {
	ServiceTypeID int64  `json:"service_type_id" binding:"required"`
	Name          string `json:"name" binding:"required"`
	DisplayName   string `json:"display_name"`
	Priority      int    `json:"priority"`
}

type UpdatePropertyInput struct {
	DisplayName *string `json:"display_name"`
	Priority    *int    `json:"priority"`
}

type CreateValueInput struct {
	ParentID  *int64 `json:"parent_id"`
	Value     string `json:"value" binding:"required"`
	SortOrder int    `json:"sort_order"`
}

type UpdateValueInput struct {
	Value     *string `json:"value"`
	SortOrder *int    `json:"sort_order"`
}

func (vs *VariationService) CreateProperty(input CreatePropertyInput) (*VariationProperty, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	var existing VariationProperty
	err := vs.DB.Where("service_type_id = ? AND name = ?", input.ServiceTypeID, name).
		First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("variation property %s already exists", name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	display := strings.TrimSpace(input.DisplayName)
	if display == "" {
		display = name
	}

	prop := VariationProperty{
		ServiceTypeID: input.ServiceTypeID,
		Name:          name,
		DisplayName:   display,
		Priority:      input.Priority,
	}
	if err := vs.DB.Create(&prop).Error; err != nil {
		return nil, err
	}
	return &prop, nil
}

// UpdateProperty only touches display metadata and ordering; name and owning
// service type are immutable once the property exists.
func (vs *VariationService) UpdateProperty(id int64, input UpdatePropertyInput) (*VariationProperty, error) {
	var prop VariationProperty
	if err := vs.DB.First(&prop, id).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*input.DisplayName)
	}
	if input.Priority != nil {
		updates["priority"] = *input.Priority
	}
	if len(updates) == 0 {
		return &prop, nil
	}

	if err := vs.DB.Model(&prop).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &prop, nil
}

func (vs *VariationService) CreateValue(propertyID int64, input CreateValueInput) (*VariationPropertyValue, error) {
	text := strings.TrimSpace(input.Value)
	if text == "" {
		return nil, errors.New("value is required")
	}

	var prop VariationProperty
	if err := vs.DB.First(&prop, propertyID).Error; err != nil {
		return nil, err
	}

	if input.ParentID != nil {
		var parent VariationPropertyValue
		if err := vs.DB.First(&parent, *input.ParentID).Error; err != nil {
			return nil, fmt.Errorf("parent value not found: %w", err)
		}
		if parent.PropertyID != propertyID {
			return nil, errors.New("parent value belongs to a different property")
		}
		selectable, err := vs.Selectable(parent.ID)
		if err != nil {
			return nil, err
		}
		if !selectable {
			return nil, errors.New("parent value is archived")
		}
	}

	value := VariationPropertyValue{
		PropertyID: propertyID,
		ParentID:   input.ParentID,
		Value:      text,
		SortOrder:  input.SortOrder,
	}
	if err := vs.DB.Create(&value).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

func (vs *VariationService) UpdateValue(id int64, input UpdateValueInput) (*VariationPropertyValue, error) {
	var value VariationPropertyValue
	if err := vs.DB.First(&value, id).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Value != nil {
		text := strings.TrimSpace(*input.Value)
		if text == "" {
			return nil, errors.New("value is required")
		}
		updates["value"] = text
	}
	if input.SortOrder != nil {
		updates["sort_order"] = *input.SortOrder
	}
	if len(updates) == 0 {
		return &value, nil
	}

	if err := vs.DB.Model(&value).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

// SetArchived marks a single value. Descendants keep their own flag; their
// visibility follows from the ancestor walk in Selectable.
func (vs *VariationService) SetArchived(id int64, archived bool) (*VariationPropertyValue, error) {
	var value VariationPropertyValue
	if err := vs.DB.First(&value, id).Error; err != nil {
		return nil, err
	}
	if err := vs.DB.Model(&value).Update("archived", archived).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

// Selectable reports whether a value may appear in a new selector: neither
// it nor any ancestor is archived. Existing selectors keep resolving either
// way.
func (vs *VariationService) Selectable(valueID int64) (bool, error) {
	seen := map[int64]bool{}
	id := valueID
	for {
		if seen[id] {
			return false, fmt.Errorf("value %d has a parent cycle", valueID)
		}
		seen[id] = true

		var value VariationPropertyValue
		if err := vs.DB.First(&value, id).Error; err != nil {
			return false, err
		}
		if value.Archived {
			return false, nil
		}
		if value.ParentID == nil {
			return true, nil
		}
		id = *value.ParentID
	}
}

// PropertiesForServiceType returns properties ordered by ascending priority,
// the order specificity tie-breaks use.
func (vs *VariationService) PropertiesForServiceType(serviceTypeID int64) ([]VariationProperty, error) {
	var props []VariationProperty
	err := vs.DB.Where("service_type_id = ?", serviceTypeID).
		Order("priority asc, id asc").
		Find(&props).Error
	if err != nil {
		return nil, err
	}
	return props, nil
}

// ListProperties returns the property list with nested value trees and
// computed selectable flags for the selection UI.
func (vs *VariationService) ListProperties(serviceTypeID int64) ([]PropertyView, error) {
	props, err := vs.PropertiesForServiceType(serviceTypeID)
	if err != nil {
		return nil, err
	}

	views := make([]PropertyView, 0, len(props))
	for _, p := range props {
		var values []VariationPropertyValue
		if err := vs.DB.Where("property_id = ?", p.ID).
			Order("sort_order asc, id asc").
			Find(&values).Error; err != nil {
			return nil, err
		}
		views = append(views, PropertyView{
			VariationProperty: p,
			Values:            buildValueTree(values),
		})
	}
	return views, nil
}

func buildValueTree(values []VariationPropertyValue) []ValueNode {
	byID := make(map[int64]VariationPropertyValue, len(values))
	for _, v := range values {
		byID[v.ID] = v
	}

	selectable := func(id int64) bool {
		for {
			v, ok := byID[id]
			if !ok || v.Archived {
				return false
			}
			if v.ParentID == nil {
				return true
			}
			id = *v.ParentID
		}
	}

	children := make(map[int64][]VariationPropertyValue)
	var roots []VariationPropertyValue
	for _, v := range values {
		if v.ParentID == nil {
			roots = append(roots, v)
		} else {
			children[*v.ParentID] = append(children[*v.ParentID], v)
		}
	}

	var build func(vals []VariationPropertyValue) []ValueNode
	build = func(vals []VariationPropertyValue) []ValueNode {
		sort.SliceStable(vals, func(i, j int) bool {
			if vals[i].SortOrder != vals[j].SortOrder {
				return vals[i].SortOrder < vals[j].SortOrder
			}
			return vals[i].ID < vals[j].ID
		})
		nodes := make([]ValueNode, 0, len(vals))
		for _, v := range vals {
			nodes = append(nodes, ValueNode{
				VariationPropertyValue: v,
				Selectable:             selectable(v.ID),
				Children:               build(children[v.ID]),
			})
		}
		return nodes
	}

	return build(roots)
}
