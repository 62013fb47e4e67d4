package variation

type VariationServiceAPI interface {
	ListProperties(serviceTypeID int64) ([]PropertyView, error)
	CreateProperty(input CreatePropertyInput) (*VariationProperty, error)
	UpdateProperty(id int64, input UpdatePropertyInput) (*VariationProperty, error)
	CreateValue(propertyID int64, input CreateValueInput) (*VariationPropertyValue, error)
	UpdateValue(id int64, input UpdateValueInput) (*VariationPropertyValue, error)
	SetArchived(id int64, archived bool) (*VariationPropertyValue, error)
}
