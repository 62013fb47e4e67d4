package variation

// VariationProperty is one dimension values can vary over (environment,
// region, ...). Priority orders properties: lower numbers are evaluated
// first and win specificity tie-breaks.
type VariationProperty struct {
	ID            int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ServiceTypeID int64  `json:"service_type_id" gorm:"not null;index"`
	Name          string `json:"name" gorm:"type:text;not null"`
	DisplayName   string `json:"display_name" gorm:"type:text;not null"`
	Priority      int    `json:"priority" gorm:"not null"`
}

func (VariationProperty) TableName() string { return "variation_property" }

// VariationPropertyValue forms a tree under its property via ParentID.
// Archiving hides a value (and, through the ancestor walk, its subtree)
// from new-selector UIs without invalidating existing selectors.
type VariationPropertyValue struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	PropertyID int64  `json:"property_id" gorm:"not null;index"`
	ParentID   *int64 `json:"parent_id"`
	Value      string `json:"value" gorm:"type:text;not null"`
	Archived   bool   `json:"archived" gorm:"not null;default:false"`
	SortOrder  int    `json:"sort_order" gorm:"not null;default:0"`
}

func (VariationPropertyValue) TableName() string { return "variation_property_value" }

// ValueNode is a value with its computed selectability and children, as
// returned to selection UIs.
type ValueNode struct {
	VariationPropertyValue
	Selectable bool        `json:"selectable"`
	Children   []ValueNode `json:"children"`
}

// PropertyView is a property with its full value tree.
type PropertyView struct {
	VariationProperty
	Values []ValueNode `json:"values"`
}
