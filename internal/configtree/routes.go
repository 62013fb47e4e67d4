package configtree

import (
	"feature-config-api/internal/membership"
	"feature-config-api/internal/middlewares"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, treeService *TreeService, checker membership.Checker) {
	controller := &TreeController{Service: treeService, Checker: checker}

	group := r.Group("/api/tree")
	group.Use(middlewares.AuthMiddleware())
	{
		group.GET("/services", controller.ListServices)
		group.GET("/features/:id", controller.GetFeatureVersion)
		group.GET("/keys/:id", controller.GetKey)
		group.GET("/keys/:id/resolve", controller.ResolveValue)

		group.POST("/service-types", controller.CreateServiceType)
		group.POST("/services", controller.CreateService)
		group.POST("/features", controller.CreateFeature)
		group.POST("/service-versions/:id/publish", controller.PublishServiceVersion)
	}
}
