package changeset

import (
	"fmt"
	"testing"
	"time"

	"feature-config-api/internal/configtree"
	"feature-config-api/internal/validation"
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

	models := append(Models(), configtree.Models()...)
	models = append(models, &variation.VariationProperty{}, &variation.VariationPropertyValue{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	return db
}

// fixture is a seeded tree with one key carrying a default value, plus an
// environment property with production and staging values.
type fixture struct {
	DB             *gorm.DB
	Svc            *ChangesetService
	Tree           *configtree.TreeService
	ServiceType    configtree.ServiceType
	Service        configtree.Service
	ServiceVersion configtree.ServiceVersion
	Feature        configtree.Feature
	FeatureVersion configtree.FeatureVersion
	Key            configtree.Key
	EnvProp        variation.VariationProperty
	EnvProd        variation.VariationPropertyValue
	EnvStaging     variation.VariationPropertyValue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	tree := &configtree.TreeService{DB: db}

	st, err := tree.CreateServiceType("web")
	if err != nil {
		t.Fatalf("seed service type: %v", err)
	}
	service, err := tree.CreateService(st.ID, "checkout")
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	var sv configtree.ServiceVersion
	if err := db.Where("service_id = ?", service.ID).First(&sv).Error; err != nil {
		t.Fatalf("fetch service version: %v", err)
	}

	feature, err := tree.CreateFeature("payments")
	if err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	var fv configtree.FeatureVersion
	if err := db.Where("feature_id = ?", feature.ID).First(&fv).Error; err != nil {
		t.Fatalf("fetch feature version: %v", err)
	}

	if _, err := tree.CreateLink(fv.ID, sv.ID); err != nil {
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

	key, err := tree.CreateKey(configtree.KeyInput{
		FeatureVersionID: fv.ID,
		Name:             "timeout",
		ValueType:        configtree.TypeString,
		Chain:            []validation.Def{{Type: validation.Required}},
		DefaultData:      "30s",
	})
	if err != nil {
		t.Fatalf("seed key: %v", err)
	}

	return &fixture{
		DB:             db,
		Svc:            &ChangesetService{DB: db},
		Tree:           tree,
		ServiceType:    *st,
		Service:        *service,
		ServiceVersion: sv,
		Feature:        *feature,
		FeatureVersion: fv,
		Key:            *key,
		EnvProp:        prop,
		EnvProd:        prod,
		EnvStaging:     staging,
	}
}

func (f *fixture) prodSelector() variation.Selector {
	return variation.Selector{f.EnvProp.ID: f.EnvProd.ID}
}

func (f *fixture) mustGetView(t *testing.T, id int64) *ChangesetView {
	t.Helper()
	view, err := f.Svc.GetByID(id)
	if err != nil {
		t.Fatalf("get changeset %d: %v", id, err)
	}
	return view
}
