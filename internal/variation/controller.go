package variation

import (
	"errors"
	"net/http"
	"strconv"

	"feature-config-api/internal/membership"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type VariationController struct {
	Service VariationServiceAPI
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

func (vc *VariationController) ListProperties(c *gin.Context) {
	serviceTypeID, err := strconv.ParseInt(c.Query("service_type_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_type_id is required"})
		return
	}

	props, err := vc.Service.ListProperties(serviceTypeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Variation properties fetched successfully",
		"properties": props,
	})
}

func (vc *VariationController) CreateProperty(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !vc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage variation properties"})
		return
	}

	var input CreatePropertyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prop, err := vc.Service.CreateProperty(input)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Variation property created successfully",
		"property": prop,
	})
}

func (vc *VariationController) UpdateProperty(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !vc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage variation properties"})
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input UpdatePropertyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prop, err := vc.Service.UpdateProperty(id, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "variation property not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Variation property updated successfully",
		"property": prop,
	})
}

func (vc *VariationController) CreateValue(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !vc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage variation values"})
		return
	}

	propertyID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input CreateValueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := vc.Service.CreateValue(propertyID, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "variation property not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Variation value created successfully",
		"value":   value,
	})
}

func (vc *VariationController) UpdateValue(c *gin.Context) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !vc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage variation values"})
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input UpdateValueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := vc.Service.UpdateValue(id, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "variation value not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Variation value updated successfully",
		"value":   value,
	})
}

func (vc *VariationController) setArchived(c *gin.Context, archived bool) {
	userID, roles, ok := principal(c)
	if !ok {
		return
	}
	if !vc.Checker.Can(userID, roles, membership.OpAdminVariation) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to manage variation values"})
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	value, err := vc.Service.SetArchived(id, archived)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "variation value not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Variation value updated successfully",
		"value":   value,
	})
}

func (vc *VariationController) ArchiveValue(c *gin.Context)   { vc.setArchived(c, true) }
func (vc *VariationController) UnarchiveValue(c *gin.Context) { vc.setArchived(c, false) }
