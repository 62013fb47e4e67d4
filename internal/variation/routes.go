package variation

import (
	"feature-config-api/internal/membership"
	"feature-config-api/internal/middlewares"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, variationService *VariationService, checker membership.Checker) {
	controller := &VariationController{Service: variationService, Checker: checker}

	group := r.Group("/api/variation")
	group.Use(middlewares.AuthMiddleware())
	{
		group.GET("/properties", controller.ListProperties)
		group.POST("/properties", controller.CreateProperty)
		group.PUT("/properties/:id", controller.UpdateProperty)
		group.POST("/properties/:id/values", controller.CreateValue)
		group.PUT("/values/:id", controller.UpdateValue)
		group.PUT("/values/:id/archive", controller.ArchiveValue)
		group.PUT("/values/:id/unarchive", controller.UnarchiveValue)
	}
}
