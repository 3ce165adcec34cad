// Package renderer fills template PDFs from a flat value table. Named
// interactive fields are set through the AcroForm; everything else is drawn
// as a text overlay on the imported template pages.
//
// Coordinates are PDF points with the origin at the top-left of the page;
// y is the top of the text box. Values wider than the configured width are
// truncated, never wrapped (multiline fields wrap within width and clip at
// height). Every clipped or skipped field is reported as a warning.
package renderer

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gofpdf "github.com/lvillar/gofpdf"
	"github.com/lvillar/gofpdf/contrib/gofpdi"
	"github.com/lvillar/gofpdf/form"
	"github.com/lvillar/gofpdf/reader"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

const (
	defaultFontSize  = 10.0
	fallbackPageW    = 595.28 // A4 portrait, points
	fallbackPageH    = 841.89
	lineHeightFactor = 1.4
	coreFallbackFont = "Helvetica"
	embeddedFontName = "overlay"
)

// Config holds renderer configuration.
type Config struct {
	// FontPath points at a UTF-8 TTF used for overlay text. Required for
	// Japanese output; without it the core Helvetica font is used and CJK
	// characters will not draw correctly.
	FontPath string
	// DefaultFontSize applies when a field spec has no fontSize (0 = 10pt).
	DefaultFontSize float64
}

// Renderer draws flat values onto template PDFs.
type Renderer struct {
	fontPath string
	fontSize float64
	logger   *zap.Logger
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config, logger *zap.Logger) *Renderer {
	size := cfg.DefaultFontSize
	if size <= 0 {
		size = defaultFontSize
	}

	fontPath := cfg.FontPath
	if fontPath != "" {
		if _, err := os.Stat(fontPath); os.IsNotExist(err) {
			logger.Warn("Overlay font not found, CJK characters may not display correctly",
				zap.String("path", fontPath))
			fontPath = ""
		}
	}

	return &Renderer{
		fontPath: fontPath,
		fontSize: size,
		logger:   logger,
	}
}

// Introspection summarizes what the admin surface needs to know about an
// uploaded PDF before a mapping exists.
type Introspection struct {
	PageCount           int      `json:"pageCount"`
	HasNativeFormFields bool     `json:"hasNativeFormFields"`
	FieldNames          []string `json:"fieldNames,omitempty"`
}

// Introspect parses template bytes and reports page count and interactive
// form fields.
func (r *Renderer) Introspect(templateBytes []byte) (*Introspection, error) {
	doc, err := reader.ReadFrom(bytes.NewReader(templateBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTemplate, err)
	}

	pageCount := doc.NumPages()
	if pageCount <= 0 {
		return nil, fmt.Errorf("%w: no pages", ErrCorruptTemplate)
	}

	fields, err := doc.FormFields()
	if err != nil {
		return nil, fmt.Errorf("failed to read form fields: %w", err)
	}
	names := collectFieldNames(fields)

	return &Introspection{
		PageCount:           pageCount,
		HasNativeFormFields: len(names) > 0,
		FieldNames:          names,
	}, nil
}

// Result is a successful render: the serialized PDF plus non-fatal per-field
// warnings collected along the way.
type Result struct {
	PDFBytes []byte
	Warnings []models.Warning
}

// Render applies every mapped field that has a value in values, then
// serializes the document. Missing named fields are warnings; corrupt bytes
// and out-of-range pages abort with no partial output.
func (r *Renderer) Render(templateBytes []byte, tmpl *models.TemplateRecord, values *models.FlatValues) (*Result, error) {
	doc, err := reader.ReadFrom(bytes.NewReader(templateBytes))
	if err != nil {
		return nil, fatal(StageLoaded, fmt.Errorf("%w: %v", ErrCorruptTemplate, err))
	}

	pageCount := doc.NumPages()
	if pageCount <= 0 {
		return nil, fatal(StageLoaded, fmt.Errorf("%w: no pages", ErrCorruptTemplate))
	}

	var (
		named  []models.MappingEntry
		coords []models.MappingEntry
	)
	for _, entry := range tmpl.FieldMapping.Entries() {
		if _, ok := values.Get(entry.Name); !ok {
			continue
		}
		if coord, ok := entry.Spec.Placement.Coordinate(); ok {
			if coord.Page < 0 || coord.Page >= pageCount {
				return nil, fatal(StageLoaded, fmt.Errorf("%w: field %q targets page %d of %d",
					ErrPageOutOfRange, entry.Name, coord.Page, pageCount))
			}
			coords = append(coords, entry)
		} else {
			named = append(named, entry)
		}
	}

	result := &Result{PDFBytes: templateBytes}

	filled, err := r.applyNamedFields(doc, tmpl, named, values, result)
	if err != nil {
		return nil, err
	}
	result.PDFBytes = filled

	if len(coords) > 0 {
		if len(named) > 0 && tmpl.HasNativeFormFields {
			// Importing pages as templates drops AcroForm annotations, so a
			// mixed mapping comes out flattened.
			result.Warnings = append(result.Warnings, models.Warning{
				Message: "interactive form fields were flattened by the coordinate overlay",
			})
		}
		overlaid, err := r.applyCoordinateFields(result.PDFBytes, pageCount, coords, values, result)
		if err != nil {
			return nil, err
		}
		result.PDFBytes = overlaid
	}

	r.logger.Info("Template rendered",
		zap.String("template_id", tmpl.ID),
		zap.Int("named_fields", len(named)),
		zap.Int("coordinate_fields", len(coords)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("output_bytes", len(result.PDFBytes)))
	return result, nil
}

// applyNamedFields sets AcroForm values. Fields absent from the actual PDF
// are reported and skipped; the rest of the render continues.
func (r *Renderer) applyNamedFields(doc *reader.Document, tmpl *models.TemplateRecord, named []models.MappingEntry, values *models.FlatValues, result *Result) ([]byte, error) {
	if len(named) == 0 {
		return result.PDFBytes, nil
	}

	if !tmpl.HasNativeFormFields {
		for _, entry := range named {
			result.Warnings = append(result.Warnings, models.Warning{
				Field:   entry.Name,
				Message: "template has no native form fields; named placement skipped",
			})
		}
		return result.PDFBytes, nil
	}

	fields, err := doc.FormFields()
	if err != nil {
		return nil, fatal(StageFieldsApplied, fmt.Errorf("failed to read form fields: %w", err))
	}
	present := make(map[string]bool)
	for _, name := range collectFieldNames(fields) {
		present[name] = true
	}

	fill := make(map[string]string)
	for _, entry := range named {
		fieldName, _ := entry.Spec.Placement.NamedField()
		if !present[fieldName] {
			result.Warnings = append(result.Warnings, models.Warning{
				Field:   entry.Name,
				Message: fmt.Sprintf("form field %q not found in PDF", fieldName),
			})
			continue
		}
		value, _ := values.Get(entry.Name)
		fill[fieldName] = value
	}

	if len(fill) == 0 {
		return result.PDFBytes, nil
	}

	var buf bytes.Buffer
	if err := form.Fill(bytes.NewReader(result.PDFBytes), &buf, fill); err != nil {
		return nil, fatal(StageFieldsApplied, fmt.Errorf("failed to fill form fields: %w", err))
	}
	return buf.Bytes(), nil
}

// applyCoordinateFields re-draws every page as an imported template and
// overlays the coordinate-placed values.
func (r *Renderer) applyCoordinateFields(pdfBytes []byte, pageCount int, coords []models.MappingEntry, values *models.FlatValues, result *Result) ([]byte, error) {
	stagePath, err := stageTemplate(pdfBytes)
	if err != nil {
		return nil, fatal(StageFieldsApplied, fmt.Errorf("failed to stage template: %w", err))
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	// Pin document dates so identical inputs serialize to identical bytes.
	pdf.SetCreationDate(time.Unix(0, 0).UTC())
	pdf.SetModificationDate(time.Unix(0, 0).UTC())

	family := coreFallbackFont
	if r.fontPath != "" {
		pdf.AddUTF8Font(embeddedFontName, "", r.fontPath)
		family = embeddedFontName
	}

	imp := gofpdi.NewImporter()
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		tplID := imp.ImportPage(pdf, stagePath, pageNum, "/MediaBox")

		pageW, pageH := fallbackPageW, fallbackPageH
		if dims, ok := imp.GetPageSizes()[pageNum]; ok {
			if mb, ok := dims["/MediaBox"]; ok && mb["w"] > 0 && mb["h"] > 0 {
				pageW, pageH = mb["w"], mb["h"]
			}
		}

		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: pageW, Ht: pageH})
		imp.UseImportedTemplate(pdf, tplID, 0, 0, pageW, pageH)

		for _, entry := range coords {
			coord, _ := entry.Spec.Placement.Coordinate()
			if coord.Page != pageNum-1 {
				continue
			}
			value, _ := values.Get(entry.Name)
			r.drawField(pdf, family, entry.Name, entry.Spec, coord, value, result)
		}
	}

	if pdf.Err() {
		return nil, fatal(StageFieldsApplied, fmt.Errorf("overlay drawing failed: %w", pdf.Error()))
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fatal(StageSerialized, fmt.Errorf("failed to serialize PDF: %w", err))
	}

	canonical, err := canonicalizePDF(buf.Bytes())
	if err != nil {
		return nil, fatal(StageSerialized, fmt.Errorf("failed to canonicalize PDF: %w", err))
	}
	return canonical, nil
}

// stageTemplate writes pdfBytes to a content-addressed path under the system
// temp directory and returns it. gofpdi both reads its source from a file
// path and derives the names of imported objects from that path, so the path
// must be a pure function of the bytes or identical renders diverge. Staged
// copies are reused across renders of the same bytes; writes go through a
// rename so concurrent renders never observe a partial file.
func stageTemplate(pdfBytes []byte) (string, error) {
	dir := filepath.Join(os.TempDir(), "docgen-templates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%x.pdf", sha256.Sum256(pdfBytes)))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, "stage-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(pdfBytes); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

func (r *Renderer) drawField(pdf *gofpdf.Fpdf, family, name string, spec models.FieldSpec, coord models.Coordinate, value string, result *Result) {
	size := r.fontSize
	if spec.Format != nil && spec.Format.FontSize > 0 {
		size = spec.Format.FontSize
	}
	pdf.SetFont(family, "", size)

	if spec.Kind == models.KindCheckbox {
		if value == "true" {
			pdf.Text(coord.X, coord.Y+size, "X")
		}
		return
	}

	if spec.Kind == models.KindMultiline {
		r.drawMultiline(pdf, name, spec, coord, value, size, result)
		return
	}

	line := strings.ReplaceAll(value, "\n", " ")
	if coord.Width > 0 {
		clipped, didClip := clipToWidth(pdf, line, coord.Width)
		if didClip {
			result.Warnings = append(result.Warnings, models.Warning{
				Field:   name,
				Message: fmt.Sprintf("value clipped to fit width %g", coord.Width),
			})
		}
		line = clipped
	}

	x := coord.X
	if coord.Width > 0 {
		switch alignment(spec) {
		case "C":
			x += (coord.Width - pdf.GetStringWidth(line)) / 2
		case "R":
			x += coord.Width - pdf.GetStringWidth(line)
		}
	}
	pdf.Text(x, coord.Y+size, line)
}

func (r *Renderer) drawMultiline(pdf *gofpdf.Fpdf, name string, spec models.FieldSpec, coord models.Coordinate, value string, size float64, result *Result) {
	lineHeight := size * lineHeightFactor
	if spec.Format != nil && spec.Format.LineHeight > 0 {
		lineHeight = spec.Format.LineHeight
	}

	var lines []string
	if coord.Width > 0 {
		for _, paragraph := range strings.Split(value, "\n") {
			lines = append(lines, pdf.SplitText(paragraph, coord.Width)...)
		}
	} else {
		lines = strings.Split(value, "\n")
	}

	maxLines := len(lines)
	if coord.Height > 0 {
		fit := int(coord.Height / lineHeight)
		if fit < 1 {
			fit = 1
		}
		if fit < maxLines {
			maxLines = fit
			result.Warnings = append(result.Warnings, models.Warning{
				Field:   name,
				Message: fmt.Sprintf("text clipped to %d lines to fit height %g", maxLines, coord.Height),
			})
		}
	}

	for i := 0; i < maxLines; i++ {
		pdf.Text(coord.X, coord.Y+size+float64(i)*lineHeight, lines[i])
	}
}

// clipToWidth rune-truncates s until it fits within width at the current
// font settings.
func clipToWidth(pdf *gofpdf.Fpdf, s string, width float64) (string, bool) {
	if pdf.GetStringWidth(s) <= width {
		return s, false
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if pdf.GetStringWidth(string(runes)) <= width {
			break
		}
	}
	return string(runes), true
}

func alignment(spec models.FieldSpec) string {
	if spec.Format == nil {
		return "L"
	}
	switch spec.Format.Alignment {
	case "C", "R":
		return spec.Format.Alignment
	default:
		return "L"
	}
}

// collectFieldNames flattens the AcroForm field tree into fully qualified
// names.
func collectFieldNames(fields []*reader.FormField) []string {
	var names []string
	for _, f := range fields {
		names = append(names, f.FullName)
		names = append(names, collectFieldNames(f.Kids)...)
	}
	return names
}
