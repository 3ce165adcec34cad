// Package ai generates draft application data with Gemini. The output is the
// nested JSON the assembler consumes; the rest of the pipeline makes no
// assumption about how it was produced.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

// DraftRequest describes the company and project the draft is written for.
type DraftRequest struct {
	SubsidyType    models.SubsidyType `json:"subsidyType" binding:"required"`
	CompanyName    string             `json:"companyName" binding:"required"`
	BusinessSector string             `json:"businessSector"`
	EmployeeCount  int                `json:"employeeCount"`
	ProjectSummary string             `json:"projectSummary" binding:"required"`
	BudgetTotal    float64            `json:"budgetTotal"`
	ExtraContext   string             `json:"extraContext"`
	// FieldNames limits the draft to the fields a template actually maps.
	FieldNames []string `json:"fieldNames"`
}

// DraftGenerator produces nested application data for a draft request.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, req DraftRequest) (map[string]interface{}, error)
}

// GeminiDrafter implements DraftGenerator with the Gemini API.
type GeminiDrafter struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewGeminiDrafter creates a new Gemini-backed draft generator.
func NewGeminiDrafter(ctx context.Context, apiKey, model string, temperature float32, logger *zap.Logger) (*GeminiDrafter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiDrafter{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// GenerateDraft asks Gemini for a JSON application draft and decodes it into
// the nested tree the assembler resolves dot-paths against.
func (d *GeminiDrafter) GenerateDraft(ctx context.Context, req DraftRequest) (map[string]interface{}, error) {
	prompt := buildDraftPrompt(req)

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(d.temperature),
	})
	if err != nil {
		d.logger.Error("Gemini draft generation failed", zap.Error(err))
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var draft map[string]interface{}
	if err := json.Unmarshal([]byte(text), &draft); err != nil {
		d.logger.Error("Failed to parse draft response",
			zap.Error(err),
			zap.Int("content_length", len(text)))
		return nil, fmt.Errorf("failed to parse draft response: %w", err)
	}

	d.logger.Info("Draft generated",
		zap.String("subsidy_type", string(req.SubsidyType)),
		zap.Int("top_level_keys", len(draft)))
	return draft, nil
}

// subsidyGuidance maps each built-in subsidy type to the emphasis reviewers
// of that program expect.
var subsidyGuidance = map[models.SubsidyType]string{
	models.SubsidyMonozukuri:     "ものづくり補助金: emphasize manufacturing innovation, new equipment, and productivity improvement with concrete numeric targets.",
	models.SubsidyJizokuka:       "小規模事業者持続化補助金: emphasize sales channel development and sustained business improvement for a small company.",
	models.SubsidyITIntroduction: "IT導入補助金: emphasize the software/IT tool being introduced and the labor-saving effect.",
	models.SubsidyGyomuKaizen:    "業務改善助成金: emphasize wage increases tied to productivity-improving capital investment.",
	models.SubsidySaikochiku:     "事業再構築補助金: emphasize restructuring into a new business field and post-pandemic recovery.",
}

func buildDraftPrompt(req DraftRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert consultant who drafts Japanese government subsidy applications (補助金申請書). ")
	b.WriteString("Write formal Japanese suitable for submission to a government office. ")
	b.WriteString("Always respond with a single valid JSON object and nothing else.\n\n")

	b.WriteString("Applicant:\n")
	fmt.Fprintf(&b, "- Company name: %s\n", req.CompanyName)
	if req.BusinessSector != "" {
		fmt.Fprintf(&b, "- Business sector: %s\n", req.BusinessSector)
	}
	if req.EmployeeCount > 0 {
		fmt.Fprintf(&b, "- Employees: %d\n", req.EmployeeCount)
	}
	fmt.Fprintf(&b, "- Project summary: %s\n", req.ProjectSummary)
	if req.BudgetTotal > 0 {
		fmt.Fprintf(&b, "- Total budget (JPY): %.0f\n", req.BudgetTotal)
	}
	if req.ExtraContext != "" {
		fmt.Fprintf(&b, "- Additional context: %s\n", req.ExtraContext)
	}

	if guidance, ok := subsidyGuidance[req.SubsidyType]; ok {
		b.WriteString("\nProgram guidance: ")
		b.WriteString(guidance)
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "\nSubsidy program: %s\n", req.SubsidyType)
	}

	b.WriteString("\nProduce a JSON object with nested sections. Use these conventions:\n")
	b.WriteString("- company: {name, sector, employeeCount, address, representative}\n")
	b.WriteString("- project: {title, summary, background, objectives, schedule}\n")
	b.WriteString("- budget: {total, breakdown: [{item, amount}]}\n")
	b.WriteString("- narrative: {currentIssues, proposedSolution, expectedEffects}\n")

	if len(req.FieldNames) > 0 {
		b.WriteString("\nThe application form maps exactly these dot-path fields; every one of them must be resolvable in your JSON:\n")
		for _, name := range req.FieldNames {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}

	b.WriteString("\nDo not invent facts not implied by the applicant information. ")
	b.WriteString("Amounts must be plain numbers without currency symbols or thousands separators.")

	return b.String()
}
