package configtree

import "feature-config-api/internal/variation"

type TreeServiceAPI interface {
	ListServices() ([]ServiceView, error)
	GetFeatureVersion(id int64) (*FeatureVersionView, error)
	GetKey(id int64) (*KeyView, error)
	ResolveValue(keyID int64, ctx variation.Selector) (*Value, error)
	CreateServiceType(name string) (*ServiceType, error)
	CreateService(serviceTypeID int64, name string) (*Service, error)
	CreateFeature(name string) (*Feature, error)
	PublishServiceVersion(id int64) (*ServiceVersion, error)
}
