package changeset

import (
	"feature-config-api/internal/membership"
	"feature-config-api/internal/middlewares"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, changesetService ChangesetServiceAPI, checker membership.Checker) {
	controller := &ChangesetController{Service: changesetService, Checker: checker}

	stage := r.Group("/api/stage")
	stage.Use(middlewares.AuthMiddleware())
	{
		stage.POST("/values", controller.StageValueCreate)
		stage.PUT("/values/:id", controller.StageValueUpdate)
		stage.DELETE("/values/:id", controller.StageValueDelete)
		stage.GET("/values/can-add", controller.CanAddValue)
		stage.GET("/values/:id/can-edit", controller.CanEditValue)

		stage.POST("/keys", controller.StageKeyCreate)
		stage.PUT("/keys/:id", controller.StageKeyUpdate)
		stage.DELETE("/keys/:id", controller.StageKeyDelete)

		stage.POST("/links", controller.StageLink)
		stage.DELETE("/links", controller.StageUnlink)

		stage.POST("/features/:id/versions", controller.StageFeatureVersionCreate)
		stage.DELETE("/feature-versions/:id", controller.StageFeatureVersionDelete)
		stage.POST("/services/:id/versions", controller.StageServiceVersionCreate)
		stage.DELETE("/service-versions/:id", controller.StageServiceVersionDelete)
	}

	sets := r.Group("/api/changesets")
	sets.Use(middlewares.AuthMiddleware())
	{
		sets.GET("/current", controller.GetCurrent)
		sets.GET("/mine", controller.ListMine)
		sets.GET("/approvable", controller.ListApprovable)
		sets.GET("/:id", controller.GetByID)

		sets.POST("/:id/apply", controller.Apply)
		sets.POST("/:id/commit", controller.Commit)
		sets.POST("/:id/stash", controller.Stash)
		sets.POST("/:id/reopen", controller.Reopen)
		sets.POST("/:id/discard", controller.Discard)
		sets.POST("/:id/comment", controller.Comment)

		sets.DELETE("/:id/changes/:changeID", controller.DiscardChange)
		sets.PUT("/:id/changes/:changeID", controller.EditChange)
		sets.POST("/:id/changes/:changeID/convert-to-update", controller.ConvertCreateToUpdate)
		sets.POST("/:id/changes/:changeID/convert-to-create", controller.ConvertUpdateToCreate)
		sets.POST("/:id/changes/:changeID/confirm", controller.ConfirmData)
		sets.POST("/:id/changes/:changeID/revalidate", controller.Revalidate)
	}
}
