package main

import (
	"log"
	"os"

	"feature-config-api/config"
	"feature-config-api/internal/changeset"
	"feature-config-api/internal/configtree"
	"feature-config-api/internal/membership"
	"feature-config-api/internal/variation"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.LoadConfig()

	dsn := "host=" + cfg.DBHost +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" port=" + cfg.DBPort +
		" sslmode=disable"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	models := append(configtree.Models(), changeset.Models()...)
	models = append(models, &variation.VariationProperty{}, &variation.VariationPropertyValue{})
	if err := db.AutoMigrate(models...); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	checker := membership.RoleChecker{}

	variationService := &variation.VariationService{DB: db}
	variation.RegisterRoutes(r, variationService, checker)

	treeService := &configtree.TreeService{DB: db}
	configtree.RegisterRoutes(r, treeService, checker)

	changesetService := &changeset.ChangesetService{DB: db}
	changeset.RegisterRoutes(r, changesetService, checker)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Starting server on 0.0.0.0:%s ...", port)
	log.Fatal(r.Run("0.0.0.0:" + port))
}
