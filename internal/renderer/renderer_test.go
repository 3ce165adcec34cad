package renderer

import (
	"bytes"
	"testing"

	gofpdf "github.com/lvillar/gofpdf"
	"github.com/lvillar/gofpdf/form"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

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
	fb.AddTextField("applicant_name", 1, 40, 20, 80, 10)
	fb.AddTextField("project_title", 1, 40, 40, 80, 10)
	require.NoError(t, fb.Build())

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func flat(values map[string]string) *models.FlatValues {
	return &models.FlatValues{Values: values}
}

func coordEntry(m *models.FieldMapping, name string, kind models.FieldKind, coord models.Coordinate) {
	m.Set(name, models.FieldSpec{
		Kind:      kind,
		Placement: models.CoordinatePlacement(coord),
		Label:     name,
	})
}

func TestIntrospect(t *testing.T) {
	r := NewRenderer(Config{}, zap.NewNop())

	t.Run("blank two page document", func(t *testing.T) {
		info, err := r.Introspect(blankPDF(t, 2))
		require.NoError(t, err)
		assert.Equal(t, 2, info.PageCount)
		assert.False(t, info.HasNativeFormFields)
		assert.Empty(t, info.FieldNames)
	})

	t.Run("interactive form document", func(t *testing.T) {
		info, err := r.Introspect(formPDF(t))
		require.NoError(t, err)
		assert.Equal(t, 1, info.PageCount)
		assert.True(t, info.HasNativeFormFields)
		assert.Contains(t, info.FieldNames, "applicant_name")
		assert.Contains(t, info.FieldNames, "project_title")
	})

	t.Run("corrupt bytes", func(t *testing.T) {
		_, err := r.Introspect([]byte("not a pdf at all"))
		assert.ErrorIs(t, err, ErrCorruptTemplate)
	})
}

func TestRender_CoordinateOverlay(t *testing.T) {
	var m models.FieldMapping
	coordEntry(&m, "companyName", models.KindText, models.Coordinate{Page: 0, X: 80, Y: 100, Width: 300})
	coordEntry(&m, "summary", models.KindMultiline, models.Coordinate{Page: 1, X: 60, Y: 120, Width: 400, Height: 200})
	coordEntry(&m, "agreed", models.KindCheckbox, models.Coordinate{Page: 0, X: 50, Y: 300})

	tmpl := &models.TemplateRecord{ID: "tpl-1", PageCount: 2, FieldMapping: m}
	values := flat(map[string]string{
		"companyName": "Example Manufacturing Co.",
		"summary":     "First line.\nSecond line of the project summary.",
		"agreed":      "true",
	})

	r := NewRenderer(Config{}, zap.NewNop())
	templateBytes := blankPDF(t, 2)

	result, err := r.Render(templateBytes, tmpl, values)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(result.PDFBytes, []byte("%PDF-")))
	assert.NotEqual(t, templateBytes, result.PDFBytes)

	// Same inputs serialize to the same bytes.
	again, err := r.Render(templateBytes, tmpl, values)
	require.NoError(t, err)
	assert.Equal(t, result.PDFBytes, again.PDFBytes)
}

func TestRender_SkipsUnresolvedFields(t *testing.T) {
	var m models.FieldMapping
	coordEntry(&m, "present", models.KindText, models.Coordinate{Page: 0, X: 80, Y: 100})
	coordEntry(&m, "absent", models.KindText, models.Coordinate{Page: 0, X: 80, Y: 130})

	tmpl := &models.TemplateRecord{ID: "tpl-2", PageCount: 1, FieldMapping: m}

	r := NewRenderer(Config{}, zap.NewNop())
	result, err := r.Render(blankPDF(t, 1), tmpl, flat(map[string]string{"present": "value"}))
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
}

func TestRender_NamedFields(t *testing.T) {
	var m models.FieldMapping
	m.Set("companyName", models.FieldSpec{
		Kind:      models.KindText,
		Placement: models.NamedFieldPlacement("applicant_name"),
		Label:     "Company name",
	})
	m.Set("fax", models.FieldSpec{
		Kind:      models.KindText,
		Placement: models.NamedFieldPlacement("fax_number"),
		Label:     "Fax",
	})

	tmpl := &models.TemplateRecord{
		ID:                  "tpl-3",
		PageCount:           1,
		HasNativeFormFields: true,
		FieldMapping:        m,
	}
	values := flat(map[string]string{
		"companyName": "Example Manufacturing Co.",
		"fax":         "03-0000-0000",
	})

	r := NewRenderer(Config{}, zap.NewNop())
	result, err := r.Render(formPDF(t), tmpl, values)
	require.NoError(t, err)

	assert.Contains(t, string(result.PDFBytes), "Example Manufacturing Co.")

	// The field missing from the actual PDF is a warning, not a failure.
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "fax", result.Warnings[0].Field)
	assert.Contains(t, result.Warnings[0].Message, "fax_number")
}

func TestRender_NamedPlacementWithoutFormFields(t *testing.T) {
	var m models.FieldMapping
	m.Set("companyName", models.FieldSpec{
		Kind:      models.KindText,
		Placement: models.NamedFieldPlacement("applicant_name"),
		Label:     "Company name",
	})

	tmpl := &models.TemplateRecord{ID: "tpl-4", PageCount: 1, FieldMapping: m}

	r := NewRenderer(Config{}, zap.NewNop())
	result, err := r.Render(blankPDF(t, 1), tmpl, flat(map[string]string{"companyName": "x"}))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "companyName", result.Warnings[0].Field)
}

func TestRender_PageOutOfRange(t *testing.T) {
	var m models.FieldMapping
	coordEntry(&m, "companyName", models.KindText, models.Coordinate{Page: 5, X: 10, Y: 10})

	tmpl := &models.TemplateRecord{ID: "tpl-5", PageCount: 1, FieldMapping: m}

	r := NewRenderer(Config{}, zap.NewNop())
	_, err := r.Render(blankPDF(t, 1), tmpl, flat(map[string]string{"companyName": "x"}))

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, StageLoaded, renderErr.Stage)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestRender_CorruptTemplate(t *testing.T) {
	var m models.FieldMapping
	coordEntry(&m, "companyName", models.KindText, models.Coordinate{Page: 0, X: 10, Y: 10})

	tmpl := &models.TemplateRecord{ID: "tpl-6", PageCount: 1, FieldMapping: m}

	r := NewRenderer(Config{}, zap.NewNop())
	_, err := r.Render([]byte("garbage"), tmpl, flat(map[string]string{"companyName": "x"}))

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.ErrorIs(t, err, ErrCorruptTemplate)
}

func TestClipToWidth(t *testing.T) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.AddPage()

	short, clipped := clipToWidth(pdf, "abc", 500)
	assert.False(t, clipped)
	assert.Equal(t, "abc", short)

	long, clipped := clipToWidth(pdf, "a very long line of text that cannot possibly fit", 40)
	assert.True(t, clipped)
	assert.Less(t, len(long), len("a very long line of text that cannot possibly fit"))
	assert.LessOrEqual(t, pdf.GetStringWidth(long), 40.0)
}
