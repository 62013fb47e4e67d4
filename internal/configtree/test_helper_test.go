package configtree

import (
	"fmt"
	"testing"
	"time"

	"feature-config-api/internal/variation"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique in-memory DB per test to avoid cross-test contamination
	dsn := fmt.Sprintf("file:%d?mode=memory&cache=shared", time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	models := append(Models(), &variation.VariationProperty{}, &variation.VariationPropertyValue{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	return db
}

// seedTree builds a service type with one environment property (two values),
// a service with its first version, a feature with its first version, and a
// link between them.
type seededTree struct {
	ServiceType    ServiceType
	Service        Service
	ServiceVersion ServiceVersion
	Feature        Feature
	FeatureVersion FeatureVersion
	EnvProp        variation.VariationProperty
	EnvProd        variation.VariationPropertyValue
	EnvStaging     variation.VariationPropertyValue
}

func seedTree(t *testing.T, db *gorm.DB) seededTree {
	t.Helper()
	svc := &TreeService{DB: db}

	st, err := svc.CreateServiceType("web")
	if err != nil {
		t.Fatalf("seed service type: %v", err)
	}

	service, err := svc.CreateService(st.ID, "checkout")
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	var sv ServiceVersion
	if err := db.Where("service_id = ?", service.ID).First(&sv).Error; err != nil {
		t.Fatalf("fetch service version: %v", err)
	}

	feature, err := svc.CreateFeature("payments")
	if err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	var fv FeatureVersion
	if err := db.Where("feature_id = ?", feature.ID).First(&fv).Error; err != nil {
		t.Fatalf("fetch feature version: %v", err)
	}

	if _, err := svc.CreateLink(fv.ID, sv.ID); err != nil {
		t.Fatalf("seed link: %v", err)
	}

	prop := variation.VariationProperty{ServiceTypeID: st.ID, Name: "environment", DisplayName: "Environment", Priority: 0}
	if err := db.Create(&prop).Error; err != nil {
		t.Fatalf("seed property: %v", err)
	}
	prod := variation.VariationPropertyValue{PropertyID: prop.ID, Value: "production"}
	if err := db.Create(&prod).Error; err != nil {
		t.Fatalf("seed prod value: %v", err)
	}
	staging := variation.VariationPropertyValue{PropertyID: prop.ID, Value: "staging"}
	if err := db.Create(&staging).Error; err != nil {
		t.Fatalf("seed staging value: %v", err)
	}

	return seededTree{
		ServiceType:    *st,
		Service:        *service,
		ServiceVersion: sv,
		Feature:        *feature,
		FeatureVersion: fv,
		EnvProp:        prop,
		EnvProd:        prod,
		EnvStaging:     staging,
	}
}
