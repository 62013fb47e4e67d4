package changeset

import (
	"errors"
	"net/http"
	"strconv"

	"feature-config-api/internal/configtree"
	"feature-config-api/internal/membership"
	"feature-config-api/internal/validation"
	"feature-config-api/internal/variation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ChangesetController struct {
	Service ChangesetServiceAPI
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

// respondError maps service errors onto the uniform error envelope.
func respondError(c *gin.Context, err error) {
	var failure *validation.Failure
	if errors.As(err, &failure) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": failure.Error()})
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrHasConflicts),
		errors.Is(err, ErrStateTransition),
		errors.Is(err, ErrChangesetNotOpen),
		errors.Is(err, ErrMustDiscard),
		errors.Is(err, ErrNoConflict),
		errors.Is(err, configtree.ErrSelectorCollision),
		errors.Is(err, configtree.ErrDuplicateName),
		errors.Is(err, configtree.ErrDuplicateLink),
		errors.Is(err, configtree.ErrVersionRace),
		errors.Is(err, configtree.ErrPublished),
		errors.Is(err, configtree.ErrDefaultValueImmutable),
		errors.Is(err, configtree.ErrValueNotSelectable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (cc *ChangesetController) requireOp(c *gin.Context, op membership.Operation, msg string) (uint, bool) {
	userID, roles, ok := principal(c)
	if !ok {
		return 0, false
	}
	if !cc.Checker.Can(userID, roles, op) {
		c.JSON(http.StatusForbidden, gin.H{"error": msg})
		return 0, false
	}
	return userID, true
}

// ---- staging ----

func (cc *ChangesetController) StageValueCreate(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	var input StageValueCreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageValueCreate(userID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageValueUpdate(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input StageValueUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageValueUpdate(userID, id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

type stageDeleteInput struct {
	ChangesetID *int64 `json:"changeset_id"`
}

func (cc *ChangesetController) StageValueDelete(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input stageDeleteInput
	_ = c.ShouldBindJSON(&input)

	change, err := cc.Service.StageValueDelete(userID, id, input.ChangesetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageKeyCreate(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	var input StageKeyCreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageKeyCreate(userID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageKeyUpdate(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input StageKeyUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageKeyUpdate(userID, id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageKeyDelete(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input stageDeleteInput
	_ = c.ShouldBindJSON(&input)

	change, err := cc.Service.StageKeyDelete(userID, id, input.ChangesetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageLink(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	var input StageLinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageLink(userID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageUnlink(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	var input StageLinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.StageUnlink(userID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) stageVersion(c *gin.Context, stage func(uint, int64, *int64) (*Change, error)) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes")
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input stageDeleteInput
	_ = c.ShouldBindJSON(&input)

	change, err := stage(userID, id, input.ChangesetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Change staged successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) StageFeatureVersionCreate(c *gin.Context) {
	cc.stageVersion(c, cc.Service.StageFeatureVersionCreate)
}

func (cc *ChangesetController) StageFeatureVersionDelete(c *gin.Context) {
	cc.stageVersion(c, cc.Service.StageFeatureVersionDelete)
}

func (cc *ChangesetController) StageServiceVersionCreate(c *gin.Context) {
	cc.stageVersion(c, cc.Service.StageServiceVersionCreate)
}

func (cc *ChangesetController) StageServiceVersionDelete(c *gin.Context) {
	cc.stageVersion(c, cc.Service.StageServiceVersionDelete)
}

// ---- pre-checks ----

// CanAddValue answers whether a value with the given selector could be
// staged under the key right now: /can-add?key_id=5&1=10&2=20.
func (cc *ChangesetController) CanAddValue(c *gin.Context) {
	if _, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes"); !ok {
		return
	}

	keyID, err := strconv.ParseInt(c.Query("key_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key_id is required"})
		return
	}

	sel := variation.Selector{}
	for param, vals := range c.Request.URL.Query() {
		propID, err := strconv.ParseInt(param, 10, 64)
		if err != nil || len(vals) == 0 {
			continue
		}
		valueID, err := strconv.ParseInt(vals[0], 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid selector value for property " + param})
			return
		}
		sel[propID] = valueID
	}

	if err := cc.Service.CanAddValue(keyID, sel); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Value can be added"})
}

func (cc *ChangesetController) CanEditValue(c *gin.Context) {
	if _, ok := cc.requireOp(c, membership.OpStage, "not allowed to stage changes"); !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := cc.Service.CanEditValue(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Value can be edited"})
}

// ---- reads ----

func (cc *ChangesetController) GetByID(c *gin.Context) {
	if _, _, ok := principal(c); !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := cc.Service.GetByID(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Changeset fetched successfully",
		"changeset": view,
	})
}

func (cc *ChangesetController) GetCurrent(c *gin.Context) {
	userID, _, ok := principal(c)
	if !ok {
		return
	}

	view, err := cc.Service.GetCurrent(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Changeset fetched successfully",
		"changeset": view,
	})
}

func (cc *ChangesetController) ListMine(c *gin.Context) {
	userID, _, ok := principal(c)
	if !ok {
		return
	}

	views, err := cc.Service.ListByAuthor(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Changesets fetched successfully",
		"changesets": views,
	})
}

func (cc *ChangesetController) ListApprovable(c *gin.Context) {
	if _, ok := cc.requireOp(c, membership.OpReview, "not allowed to review changesets"); !ok {
		return
	}

	views, err := cc.Service.ListApprovable()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Changesets fetched successfully",
		"changesets": views,
	})
}

// ---- lifecycle ----

type actionInput struct {
	Comment string `json:"comment"`
}

func (cc *ChangesetController) action(c *gin.Context, op membership.Operation, msg string, run func(uint, int64, string) error, done string) {
	userID, ok := cc.requireOp(c, op, msg)
	if !ok {
		return
	}

	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input actionInput
	_ = c.ShouldBindJSON(&input)

	if err := run(userID, id, input.Comment); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": done})
}

func (cc *ChangesetController) Apply(c *gin.Context) {
	cc.action(c, membership.OpApply, "not allowed to apply changesets", cc.Service.Apply, "Changeset applied successfully")
}

func (cc *ChangesetController) Commit(c *gin.Context) {
	cc.action(c, membership.OpStage, "not allowed to commit changesets", cc.Service.Commit, "Changeset committed successfully")
}

func (cc *ChangesetController) Stash(c *gin.Context) {
	cc.action(c, membership.OpStage, "not allowed to stash changesets", cc.Service.Stash, "Changeset stashed successfully")
}

func (cc *ChangesetController) Reopen(c *gin.Context) {
	cc.action(c, membership.OpStage, "not allowed to reopen changesets", cc.Service.Reopen, "Changeset reopened successfully")
}

func (cc *ChangesetController) Discard(c *gin.Context) {
	cc.action(c, membership.OpStage, "not allowed to discard changesets", cc.Service.Discard, "Changeset discarded successfully")
}

func (cc *ChangesetController) Comment(c *gin.Context) {
	cc.action(c, membership.OpStage, "not allowed to comment on changesets", cc.Service.Comment, "Comment added successfully")
}

func (cc *ChangesetController) DiscardChange(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to discard changes")
	if !ok {
		return
	}

	changesetID, ok := pathID(c, "id")
	if !ok {
		return
	}
	changeID, ok := pathID(c, "changeID")
	if !ok {
		return
	}

	if err := cc.Service.DiscardChange(userID, changesetID, changeID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Change discarded successfully"})
}

// ---- resolution ----

func (cc *ChangesetController) resolve(c *gin.Context, run func(uint, int64, int64) (*Change, error)) {
	userID, ok := cc.requireOp(c, membership.OpResolve, "not allowed to resolve conflicts")
	if !ok {
		return
	}

	changesetID, ok := pathID(c, "id")
	if !ok {
		return
	}
	changeID, ok := pathID(c, "changeID")
	if !ok {
		return
	}

	change, err := run(userID, changesetID, changeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Change resolved successfully",
		"change":  change,
	})
}

func (cc *ChangesetController) ConvertCreateToUpdate(c *gin.Context) {
	cc.resolve(c, cc.Service.ConvertCreateToUpdate)
}

func (cc *ChangesetController) ConvertUpdateToCreate(c *gin.Context) {
	cc.resolve(c, cc.Service.ConvertUpdateToCreate)
}

func (cc *ChangesetController) ConfirmData(c *gin.Context) {
	cc.resolve(c, cc.Service.ConfirmData)
}

func (cc *ChangesetController) Revalidate(c *gin.Context) {
	cc.resolve(c, cc.Service.Revalidate)
}

type editChangeInput struct {
	Data string `json:"data"`
}

func (cc *ChangesetController) EditChange(c *gin.Context) {
	userID, ok := cc.requireOp(c, membership.OpStage, "not allowed to edit changes")
	if !ok {
		return
	}

	changesetID, ok := pathID(c, "id")
	if !ok {
		return
	}
	changeID, ok := pathID(c, "changeID")
	if !ok {
		return
	}

	var input editChangeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := cc.Service.EditChange(userID, changesetID, changeID, input.Data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Change updated successfully",
		"change":  change,
	})
}
