package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/ai"
	"github.com/hojokin-tools/subsidy-docgen/internal/assembler"
	"github.com/hojokin-tools/subsidy-docgen/internal/export"
	"github.com/hojokin-tools/subsidy-docgen/internal/models"
	"github.com/hojokin-tools/subsidy-docgen/internal/preview"
	"github.com/hojokin-tools/subsidy-docgen/internal/registry"
	"github.com/hojokin-tools/subsidy-docgen/internal/renderer"
	"github.com/hojokin-tools/subsidy-docgen/internal/storage"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	registry  *registry.Registry
	store     storage.TemplateStore
	assembler *assembler.Assembler
	renderer  *renderer.Renderer
	previewer *preview.PageRenderer
	sheets    *export.ReviewSheetWriter
	drafter   ai.DraftGenerator // nil when no API key is configured
	maxUpload int64
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	reg *registry.Registry,
	store storage.TemplateStore,
	asm *assembler.Assembler,
	rend *renderer.Renderer,
	previewer *preview.PageRenderer,
	sheets *export.ReviewSheetWriter,
	drafter ai.DraftGenerator,
	maxUploadBytes int64,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		registry:  reg,
		store:     store,
		assembler: asm,
		renderer:  rend,
		previewer: previewer,
		sheets:    sheets,
		drafter:   drafter,
		maxUpload: maxUploadBytes,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":  "healthy",
			"service": "subsidy-docgen",
			"time":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// UploadTemplate handles POST /api/v1/templates. It accepts a multipart PDF
// upload, introspects page count and form fields, and registers a draft
// record (inactive, empty mapping unless one is supplied).
func (h *Handlers) UploadTemplate(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "missing_file", "multipart field \"file\" is required")
		return
	}
	if h.maxUpload > 0 && fileHeader.Size > h.maxUpload {
		h.badRequest(c, "file_too_large", fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.internalError(c, err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if !storage.IsPDF(content) {
		h.badRequest(c, "not_a_pdf", "uploaded file is not a PDF")
		return
	}

	displayName := c.PostForm("display_name")
	if displayName == "" {
		h.badRequest(c, "missing_display_name", "form field \"display_name\" is required")
		return
	}
	subsidyType := models.SubsidyType(c.PostForm("subsidy_type"))
	if subsidyType == "" {
		subsidyType = models.SubsidyCustom
	}

	inspection, err := h.renderer.Introspect(content)
	if err != nil {
		h.badRequest(c, "unreadable_pdf", err.Error())
		return
	}

	record := &models.TemplateRecord{
		ID:                   uuid.NewString(),
		SubsidyType:          subsidyType,
		DisplayName:          displayName,
		Description:          c.PostForm("description"),
		PageCount:            inspection.PageCount,
		HasNativeFormFields:  inspection.HasNativeFormFields,
		IsGovernmentOfficial: c.PostForm("is_government_official") == "true",
	}

	if mappingJSON := c.PostForm("field_mapping"); mappingJSON != "" {
		var m models.FieldMapping
		if err := json.Unmarshal([]byte(mappingJSON), &m); err != nil {
			h.badRequest(c, "invalid_mapping", fmt.Sprintf("field_mapping is not valid JSON: %v", err))
			return
		}
		record.FieldMapping = m
	}

	path, err := h.store.Save(record.ID, content)
	if err != nil {
		h.internalError(c, err)
		return
	}
	record.SourceFile = path

	registered, err := h.registry.Register(record)
	if err != nil {
		if removeErr := h.store.Remove(path); removeErr != nil {
			h.logger.Warn("Failed to clean up template file after rejected registration",
				zap.String("path", path), zap.Error(removeErr))
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data: gin.H{
			"template":   registered,
			"fieldNames": inspection.FieldNames,
		},
	})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	subsidyType := models.SubsidyType(c.Query("subsidy_type"))
	activeOnly := c.Query("active_only") == "true"

	records, err := h.registry.ListBySubsidyType(subsidyType, activeOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	record, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: record})
}

// UpdateTemplate handles PUT /api/v1/templates/:id
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	var params registry.UpdateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		h.badRequest(c, "invalid_body", err.Error())
		return
	}

	record, err := h.registry.Update(c.Param("id"), params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: record})
}

// DeleteTemplate handles DELETE /api/v1/templates/:id. Deletion is
// destructive, so the caller must confirm intent explicitly.
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	if c.Query("confirm") != "true" {
		h.badRequest(c, "confirmation_required", "pass confirm=true to delete a template")
		return
	}

	id := c.Param("id")
	record, err := h.registry.Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.registry.Delete(id); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.Remove(record.SourceFile); err != nil {
		h.logger.Warn("Failed to remove template file",
			zap.String("path", record.SourceFile), zap.Error(err))
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// PreviewTemplatePage handles GET /api/v1/templates/:id/preview?page=N
func (h *Handlers) PreviewTemplatePage(c *gin.Context) {
	record, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		h.badRequest(c, "invalid_page", "page must be an integer")
		return
	}

	content, err := h.store.Load(record.SourceFile)
	if err != nil {
		h.internalError(c, err)
		return
	}

	pngBytes, err := h.previewer.RenderPage(content, page)
	if err != nil {
		h.badRequest(c, "preview_failed", err.Error())
		return
	}

	c.Data(http.StatusOK, "image/png", pngBytes)
}

// RenderRequest is the body for render and review-sheet calls.
type RenderRequest struct {
	ApplicationData map[string]interface{} `json:"applicationData" binding:"required"`
}

// RenderDocument handles POST /api/v1/templates/:id/render. On success the
// body is the generated PDF; non-fatal field warnings travel in the
// X-Generation-Warnings header.
func (h *Handlers) RenderDocument(c *gin.Context) {
	record, values, ok := h.assembleForTemplate(c)
	if !ok {
		return
	}

	content, err := h.store.Load(record.SourceFile)
	if err != nil {
		h.internalError(c, err)
		return
	}

	result, err := h.renderer.Render(content, record, values)
	if err != nil {
		h.respondError(c, err)
		return
	}

	warnings := append(values.Warnings, result.Warnings...)
	if len(warnings) > 0 {
		encoded, err := json.Marshal(warnings)
		if err == nil {
			c.Header("X-Generation-Warnings", string(encoded))
		}
	}

	filename := fmt.Sprintf("%s_%s.pdf", record.SubsidyType, record.ID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", result.PDFBytes)
}

// ExportReviewSheet handles POST /api/v1/templates/:id/review-sheet
func (h *Handlers) ExportReviewSheet(c *gin.Context) {
	record, values, ok := h.assembleForTemplate(c)
	if !ok {
		return
	}

	sheet, err := h.sheets.Write(record, values)
	if err != nil {
		h.internalError(c, err)
		return
	}

	filename := fmt.Sprintf("%s_review.xlsx", record.ID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", sheet)
}

// GenerateDraft handles POST /api/v1/drafts
func (h *Handlers) GenerateDraft(c *gin.Context) {
	if h.drafter == nil {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Error:   "drafts_disabled",
			Message: "draft generation requires a configured Gemini API key",
		})
		return
	}

	var req ai.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid_body", err.Error())
		return
	}

	draft, err := h.drafter.GenerateDraft(c.Request.Context(), req)
	if err != nil {
		h.internalError(c, err)
		return
	}

	// Report requested dot-paths the model failed to produce so the editor
	// can prompt for them instead of failing at render time.
	var unresolved []string
	if len(req.FieldNames) > 0 {
		flat := assembler.Flatten(draft)
		for _, name := range req.FieldNames {
			if _, ok := flat[name]; !ok {
				unresolved = append(unresolved, name)
			}
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"applicationData":  draft,
			"unresolvedFields": unresolved,
		},
	})
}

// assembleForTemplate binds the request body, loads the template, and runs
// assembly. It writes the error response itself when anything fails.
func (h *Handlers) assembleForTemplate(c *gin.Context) (*models.TemplateRecord, *models.FlatValues, bool) {
	record, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, nil, false
	}

	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid_body", err.Error())
		return nil, nil, false
	}

	values, err := h.assembler.Assemble(record, req.ApplicationData)
	if err != nil {
		h.respondError(c, err)
		return nil, nil, false
	}
	return record, values, true
}

// respondError translates component errors into status codes:
// validation 400, not found 404, duplicate 409, fatal render 500.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var (
		validationErr *registry.ValidationError
		assemblyErr   *assembler.AssemblyError
		renderErr     *renderer.RenderError
	)

	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, registry.ErrDuplicateID):
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   "duplicate_id",
			Message: err.Error(),
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "validation_failed",
			Message: validationErr.Error(),
			Data:    gin.H{"fields": validationErr.Fields},
		})
	case errors.As(err, &assemblyErr):
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "missing_required_fields",
			Message: assemblyErr.Error(),
			Data:    gin.H{"missing": assemblyErr.Missing},
		})
	case errors.As(err, &renderErr):
		h.logger.Error("Render failed", zap.String("stage", renderErr.Stage), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "render_failed",
			Message: renderErr.Error(),
		})
	default:
		h.internalError(c, err)
	}
}

func (h *Handlers) badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   code,
		Message: message,
	})
}

func (h *Handlers) internalError(c *gin.Context, err error) {
	h.logger.Error("Internal error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   "internal_error",
		Message: err.Error(),
	})
}
