package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	gofpdf "github.com/lvillar/gofpdf"
	"github.com/lvillar/gofpdf/form"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/ai"
	"github.com/hojokin-tools/subsidy-docgen/internal/assembler"
	"github.com/hojokin-tools/subsidy-docgen/internal/export"
	"github.com/hojokin-tools/subsidy-docgen/internal/models"
	"github.com/hojokin-tools/subsidy-docgen/internal/preview"
	"github.com/hojokin-tools/subsidy-docgen/internal/registry"
	"github.com/hojokin-tools/subsidy-docgen/internal/renderer"
	"github.com/hojokin-tools/subsidy-docgen/internal/storage"
	"github.com/hojokin-tools/subsidy-docgen/pkg/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDrafter struct {
	draft map[string]interface{}
	err   error
}

func (s *stubDrafter) GenerateDraft(_ context.Context, _ ai.DraftRequest) (map[string]interface{}, error) {
	return s.draft, s.err
}

func newTestRouter(t *testing.T, drafter ai.DraftGenerator) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).RunMigrations())

	store, err := storage.NewLocalTemplateStore(filepath.Join(t.TempDir(), "templates"), logger)
	require.NoError(t, err)

	handlers := NewHandlers(
		registry.NewRegistry(registry.NewTemplateRepository(db.DB, logger), logger),
		store,
		assembler.NewAssembler(logger),
		renderer.NewRenderer(renderer.Config{}, logger),
		preview.NewPageRenderer(logger),
		export.NewReviewSheetWriter(logger),
		drafter,
		10*1024*1024,
		logger,
	)

	server := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0}, handlers, logger)
	return server.Router()
}

func blankPDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func formPDF(t *testing.T) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	fb := form.NewFormBuilder(pdf)
	fb.AddTextField("company_name", 1, 40, 20, 80, 10)
	require.NoError(t, fb.Build())
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func doRequest(router *gin.Engine, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doJSON(router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	return doRequest(router, method, path, body, "application/json")
}

func uploadTemplate(t *testing.T, router *gin.Engine, pdfBytes []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "template.pdf")
	require.NoError(t, err)
	_, err = part.Write(pdfBytes)
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	return doRequest(router, http.MethodPost, "/api/v1/templates", buf.Bytes(), writer.FormDataContentType())
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func uploadedTemplateID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	tmpl, ok := data["template"].(map[string]interface{})
	require.True(t, ok)
	id, ok := tmpl["id"].(string)
	require.True(t, ok)
	return id
}

func sampleMappingJSON() string {
	return `{
		"companyName": {
			"kind": "text",
			"placement": {"coordinate": {"page": 0, "x": 100, "y": 120, "width": 300}},
			"label": "事業者名",
			"validation": {"required": true}
		},
		"project.title": {
			"kind": "text",
			"placement": {"coordinate": {"page": 1, "x": 80, "y": 150, "width": 400}},
			"label": "事業計画名"
		}
	}`
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doRequest(router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestUploadTemplate(t *testing.T) {
	router := newTestRouter(t, nil)

	t.Run("registers a draft from a PDF upload", func(t *testing.T) {
		w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
			"display_name": "交付申請書",
			"subsidy_type": "monozukuri",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		resp := decodeResponse(t, w)
		require.True(t, resp.Success)
		data := resp.Data.(map[string]interface{})
		tmpl := data["template"].(map[string]interface{})
		assert.Equal(t, "monozukuri", tmpl["subsidyType"])
		assert.Equal(t, float64(2), tmpl["pageCount"])
		assert.Equal(t, false, tmpl["isActive"])
	})

	t.Run("reports native form fields", func(t *testing.T) {
		w := uploadTemplate(t, router, formPDF(t), map[string]string{
			"display_name": "様式第1号",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		resp := decodeResponse(t, w)
		data := resp.Data.(map[string]interface{})
		tmpl := data["template"].(map[string]interface{})
		assert.Equal(t, true, tmpl["hasNativeFormFields"])
		assert.Contains(t, data["fieldNames"], "company_name")
	})

	t.Run("accepts an initial mapping", func(t *testing.T) {
		w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
			"display_name":  "交付申請書",
			"field_mapping": sampleMappingJSON(),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("rejects non-PDF content", func(t *testing.T) {
		w := uploadTemplate(t, router, []byte("plain text"), map[string]string{
			"display_name": "x",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "not_a_pdf", decodeResponse(t, w).Error)
	})

	t.Run("rejects missing display name", func(t *testing.T) {
		w := uploadTemplate(t, router, blankPDF(t, 1), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing_display_name", decodeResponse(t, w).Error)
	})

	t.Run("rejects mapping beyond page count", func(t *testing.T) {
		w := uploadTemplate(t, router, blankPDF(t, 1), map[string]string{
			"display_name":  "x",
			"field_mapping": sampleMappingJSON(), // targets page 1 of a 1 page doc
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_failed", decodeResponse(t, w).Error)
	})
}

func TestGetAndListTemplates(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
		"display_name": "交付申請書",
		"subsidy_type": "jizokuka",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	t.Run("get by id", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates/"+id, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("get unknown id", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates/nope", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decodeResponse(t, w).Error)
	})

	t.Run("list filtered by subsidy type", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates?subsidy_type=jizokuka", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		records := resp.Data.([]interface{})
		assert.Len(t, records, 1)
	})

	t.Run("active only excludes drafts", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates?active_only=true", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.Nil(t, resp.Data)
	})
}

func TestUpdateTemplate(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
		"display_name": "交付申請書",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	t.Run("set mapping then activate", func(t *testing.T) {
		var mappingBody map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(sampleMappingJSON()), &mappingBody))

		w := doJSON(router, http.MethodPut, "/api/v1/templates/"+id, gin.H{
			"fieldMapping": mappingBody,
			"isActive":     true,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decodeResponse(t, w)
		tmpl := resp.Data.(map[string]interface{})
		assert.Equal(t, true, tmpl["isActive"])
	})

	t.Run("invalid mapping rejected with field details", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/v1/templates/"+id, gin.H{
			"fieldMapping": gin.H{
				"bad": gin.H{
					"kind":      "text",
					"placement": gin.H{"coordinate": gin.H{"page": 7, "x": 0, "y": 0}},
					"label":     "x",
				},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, "validation_failed", resp.Error)
		data := resp.Data.(map[string]interface{})
		assert.NotEmpty(t, data["fields"])
	})

	t.Run("unknown id", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/v1/templates/nope", gin.H{})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteTemplate(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 1), map[string]string{
		"display_name": "削除対象",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	t.Run("requires confirmation", func(t *testing.T) {
		w := doRequest(router, http.MethodDelete, "/api/v1/templates/"+id, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "confirmation_required", decodeResponse(t, w).Error)
	})

	t.Run("deletes with confirm=true", func(t *testing.T) {
		w := doRequest(router, http.MethodDelete, "/api/v1/templates/"+id+"?confirm=true", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = doRequest(router, http.MethodGet, "/api/v1/templates/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRenderDocument(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
		"display_name":  "交付申請書",
		"field_mapping": sampleMappingJSON(),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	t.Run("renders a PDF", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/v1/templates/"+id+"/render", gin.H{
			"applicationData": gin.H{
				"companyName": "株式会社テスト",
				"project":     gin.H{"title": "新製品開発"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".pdf")
	})

	t.Run("missing required field yields 400 with names", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/v1/templates/"+id+"/render", gin.H{
			"applicationData": gin.H{"project": gin.H{"title": "x"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, "missing_required_fields", resp.Error)
		data := resp.Data.(map[string]interface{})
		assert.Contains(t, data["missing"], "companyName")
	})

	t.Run("missing body yields 400", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/v1/templates/"+id+"/render", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown template yields 404", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/v1/templates/nope/render", gin.H{
			"applicationData": gin.H{"companyName": "x"},
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("truncation surfaces in the warnings header", func(t *testing.T) {
		mapping := fmt.Sprintf(`{
			"companyName": {
				"kind": "text",
				"placement": {"coordinate": {"page": 0, "x": 100, "y": 120}},
				"label": "事業者名",
				"format": {"maxLength": %d}
			}
		}`, 3)
		up := uploadTemplate(t, router, blankPDF(t, 1), map[string]string{
			"display_name":  "warn",
			"field_mapping": mapping,
		})
		require.Equal(t, http.StatusCreated, up.Code)
		warnID := uploadedTemplateID(t, up)

		w := doJSON(router, http.MethodPost, "/api/v1/templates/"+warnID+"/render", gin.H{
			"applicationData": gin.H{"companyName": "a name too long"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		header := w.Header().Get("X-Generation-Warnings")
		require.NotEmpty(t, header)
		var warnings []models.Warning
		require.NoError(t, json.Unmarshal([]byte(header), &warnings))
		assert.Equal(t, "companyName", warnings[0].Field)
	})
}

func TestExportReviewSheet(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
		"display_name":  "交付申請書",
		"field_mapping": sampleMappingJSON(),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	w = doJSON(router, http.MethodPost, "/api/v1/templates/"+id+"/review-sheet", gin.H{
		"applicationData": gin.H{
			"companyName": "株式会社テスト",
			"project":     gin.H{"title": "新製品開発"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	// xlsx files are zip archives.
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestPreviewTemplatePage(t *testing.T) {
	router := newTestRouter(t, nil)

	w := uploadTemplate(t, router, blankPDF(t, 2), map[string]string{
		"display_name": "交付申請書",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := uploadedTemplateID(t, w)

	t.Run("renders a page as PNG", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates/"+id+"/preview?page=0", nil, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
	})

	t.Run("page out of range", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/v1/templates/"+id+"/preview?page=9", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGenerateDraft(t *testing.T) {
	t.Run("unavailable without a drafter", func(t *testing.T) {
		router := newTestRouter(t, nil)
		w := doJSON(router, http.MethodPost, "/api/v1/drafts", gin.H{
			"subsidyType":    "monozukuri",
			"companyName":    "株式会社テスト",
			"projectSummary": "新製品開発",
		})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "drafts_disabled", decodeResponse(t, w).Error)
	})

	t.Run("returns the generated application data", func(t *testing.T) {
		router := newTestRouter(t, &stubDrafter{
			draft: map[string]interface{}{
				"company": map[string]interface{}{"name": "株式会社テスト"},
			},
		})
		w := doJSON(router, http.MethodPost, "/api/v1/drafts", gin.H{
			"subsidyType":    "monozukuri",
			"companyName":    "株式会社テスト",
			"projectSummary": "新製品開発",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeResponse(t, w)
		data := resp.Data.(map[string]interface{})
		assert.NotNil(t, data["applicationData"])
	})

	t.Run("reports mapped fields the draft left unresolved", func(t *testing.T) {
		router := newTestRouter(t, &stubDrafter{
			draft: map[string]interface{}{
				"company": map[string]interface{}{"name": "株式会社テスト"},
			},
		})
		w := doJSON(router, http.MethodPost, "/api/v1/drafts", gin.H{
			"subsidyType":    "monozukuri",
			"companyName":    "株式会社テスト",
			"projectSummary": "新製品開発",
			"fieldNames":     []string{"company.name", "project.title"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decodeResponse(t, w).Data.(map[string]interface{})
		assert.Equal(t, []interface{}{"project.title"}, data["unresolvedFields"])
	})

	t.Run("rejects incomplete request", func(t *testing.T) {
		router := newTestRouter(t, &stubDrafter{draft: map[string]interface{}{}})
		w := doJSON(router, http.MethodPost, "/api/v1/drafts", gin.H{
			"companyName": "x",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
