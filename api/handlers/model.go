package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/settings"
)

type ModelHandler struct {
	store    settings.ModelStore
	resolver ModelResolver
	backend  ModelBackend
	logger   logger.Logger
}

func NewModelHandler(store settings.ModelStore, resolver ModelResolver, backend ModelBackend, log logger.Logger) *ModelHandler {
	return &ModelHandler{store: store, resolver: resolver, backend: backend, logger: log}
}

// List returns the models installed on the generation backend.
func (h *ModelHandler) List(c *gin.Context) {
	list, err := h.backend.ListModels(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, "Failed to list models", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": list, "default": h.resolver.Default()})
}

func (h *ModelHandler) GetActive(c *gin.Context) {
	ctx := c.Request.Context()
	override, err := h.store.ActiveModel(ctx)
	if err != nil {
		handleError(c, h.logger, "Failed to read active model", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":   h.resolver.Resolve(ctx, ""),
		"override": override,
		"default":  h.resolver.Default(),
	})
}

type modelRequest struct {
	Model string `json:"model"`
}

// SetActive stores the override; an empty model clears it. The model must
// be installed on the backend.
func (h *ModelHandler) SetActive(c *gin.Context) {
	var body modelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, h.logger, "Invalid request body",
			&models.ValidationError{Code: "INVALID_BODY", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	model := strings.TrimSpace(body.Model)
	var err error
	if model == "" {
		err = h.store.ClearActiveModel(ctx)
	} else {
		model, err = rag.InstalledModel(ctx, h.backend, model)
		if err != nil {
			handleError(c, h.logger, "Model is not available", err)
			return
		}
		err = h.store.SetActiveModel(ctx, model)
	}
	if err != nil {
		handleError(c, h.logger, "Failed to update active model", err)
		return
	}
	h.logger.Info("Active model changed", logger.String("model", model))
	c.JSON(http.StatusOK, gin.H{"active": h.resolver.Resolve(ctx, ""), "override": model})
}

// Pull downloads a model; the request returns when the download is done.
func (h *ModelHandler) Pull(c *gin.Context) {
	var body modelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, h.logger, "Invalid request body",
			&models.ValidationError{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	model := strings.TrimSpace(body.Model)
	if model == "" {
		handleError(c, h.logger, "Model is required",
			&models.ValidationError{Code: "MODEL_REQUIRED", Field: "model", Message: "model is required"})
		return
	}

	start := time.Now()
	if err := h.backend.Pull(c.Request.Context(), model); err != nil {
		handleError(c, h.logger, "Failed to pull model", err)
		return
	}
	h.logger.Info("Model pulled", logger.String("model", model), logger.Duration("elapsed", time.Since(start)))
	c.JSON(http.StatusOK, gin.H{"status": "success", "model": model})
}

// Delete removes an installed model. Deleting the override also clears it.
func (h *ModelHandler) Delete(c *gin.Context) {
	model := strings.Trim(c.Param("name"), "/ ")
	if model == "" {
		handleError(c, h.logger, "Model is required",
			&models.ValidationError{Code: "MODEL_REQUIRED", Field: "name", Message: "model is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.backend.Delete(ctx, model); err != nil {
		handleError(c, h.logger, "Failed to delete model", err)
		return
	}
	if override, err := h.store.ActiveModel(ctx); err == nil && override == model {
		if err := h.store.ClearActiveModel(ctx); err != nil {
			h.logger.Warn("Failed to clear override of deleted model", logger.String("model", model), logger.Error(err))
		}
	}
	h.logger.Info("Model deleted", logger.String("model", model))
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "model": model})
}
