package configtree

import (
	"errors"
	"net/http"
	"strconv"

	"feature-config-api/internal/membership"
	"feature-config-api/internal/variation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type TreeController struct {
	Service TreeServiceAPI
	Checker membership.Checker
}

func principal(c *gin.Context) (uint, []string, bool) {
	userIDVal, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user ID not found"})
		return 0, nil, false
	}
	userID, ok := userIDVal.(float64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user ID"})
		return 0, nil, false
	}

	roles := []string{}
	if rolesVal, ok := c.Get("roles"); ok {
		if rs, ok := rolesVal.([]string); ok {
			roles = rs
		}
	}
	return uint(userID), roles, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (tc *TreeController) ListServices(c *gin.Context) {
	services, err := tc.Service.ListServices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Services fetched successfully",
		"services": services,
	})
}

func (tc *TreeController) GetFeatureVersion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := tc.Service.GetFeatureVersion(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "feature version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Feature version fetched successfully",
		"feature_version": view,
	})
}

func (tc *TreeController) GetKey(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := tc.Service.GetKey(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Key fetched successfully",
		"key":     view,
	})
}

// ResolveValue evaluates a key against a concrete context. Query parameters
// are variation property ids mapped to value ids: /resolve?1=10&2=20.
func (tc *TreeController) ResolveValue(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	ctx := variation.Selector{}
	for param, vals := range c.Request.URL.Query() {
		propID, err := strconv.ParseInt(param, 10, 64)
		if err != nil {
			continue
		}
		if len(vals) == 0 {
			continue
		}
		valueID, err := strconv.ParseInt(vals[0], 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid context value for property " + param})
			return
		}
		ctx[propID] = valueID
	}

	value, err := tc.Service.ResolveValue(id, ctx)
	if err != nil {
		if errors.Is(err, variation.ErrNoMatch) || errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no value matches the given context"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Value resolved successfully",
		"value":   value,
	})
}

type createServiceTypeInput struct {
	Name string `json:"name" binding:"required"`
}

func (tc *TreeController) CreateServiceType(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !tc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage service types"})
		return
	}

	var input createServiceTypeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := tc.Service.CreateServiceType(input.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Service type created successfully",
		"service_type": st,
	})
}

type createServiceInput struct {
	ServiceTypeID int64  `json:"service_type_id" binding:"required"`
	Name          string `json:"name" binding:"required"`
}

func (tc *TreeController) CreateService(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !tc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage services"})
		return
	}

	var input createServiceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	svc, err := tc.Service.CreateService(input.ServiceTypeID, input.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Service created successfully",
		"service": svc,
	})
}

type createFeatureInput struct {
	Name string `json:"name" binding:"required"`
}

func (tc *TreeController) CreateFeature(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !tc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage features"})
		return
	}

	var input createFeatureInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feature, err := tc.Service.CreateFeature(input.Name)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Feature created successfully",
		"feature": feature,
	})
}

func (tc *TreeController) PublishServiceVersion(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !tc.Checker.Can(userID, roles, membership.OpReview) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to publish service versions"})
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sv, err := tc.Service.PublishServiceVersion(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Service version published successfully",
		"service_version": sv,
	})
}
