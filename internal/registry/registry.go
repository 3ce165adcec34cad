// Package registry owns the template records: registration, lookup, mapping
// edits, activation, and deletion. No other component mutates templates.
package registry

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/mapping"
	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

// Registry validates and persists template records.
type Registry struct {
	repo   *TemplateRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a new template registry.
func NewRegistry(repo *TemplateRepository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// UpdateParams carries a shallow partial update. Nil fields are left as-is.
type UpdateParams struct {
	SubsidyType          *models.SubsidyType  `json:"subsidyType,omitempty"`
	DisplayName          *string              `json:"displayName,omitempty"`
	Description          *string              `json:"description,omitempty"`
	FieldMapping         *models.FieldMapping `json:"fieldMapping,omitempty"`
	IsActive             *bool                `json:"isActive,omitempty"`
	IsGovernmentOfficial *bool                `json:"isGovernmentOfficial,omitempty"`
}

// Register stores a new template. The id must be unused. An inactive record
// may carry an empty mapping (a draft freshly uploaded through the admin
// surface); an active record must carry a valid, non-empty mapping.
func (r *Registry) Register(record *models.TemplateRecord) (*models.TemplateRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if strings.TrimSpace(record.DisplayName) == "" {
		return nil, newValidationError("displayName must be non-empty")
	}
	if record.PageCount <= 0 {
		return nil, newValidationError("pageCount must be a positive integer")
	}

	if err := r.checkMapping(record.FieldMapping, record.PageCount, record.IsActive); err != nil {
		return nil, err
	}

	existing, err := r.repo.GetByID(record.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateID
	}

	record.UploadedAt = r.now().UTC()
	if err := r.repo.Insert(record); err != nil {
		return nil, err
	}

	r.logger.Info("Template registered",
		zap.String("id", record.ID),
		zap.String("subsidy_type", string(record.SubsidyType)),
		zap.Int("page_count", record.PageCount),
		zap.Bool("native_form_fields", record.HasNativeFormFields))
	return record, nil
}

// Get returns the template for id, or ErrNotFound.
func (r *Registry) Get(id string) (*models.TemplateRecord, error) {
	record, err := r.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// ListBySubsidyType returns templates in insertion order. An empty
// subsidyType matches everything.
func (r *Registry) ListBySubsidyType(subsidyType models.SubsidyType, activeOnly bool) ([]*models.TemplateRecord, error) {
	return r.repo.ListBySubsidyType(subsidyType, activeOnly)
}

// Update applies a shallow partial update and returns the merged record.
// A supplied mapping is re-validated against the record's page count, and a
// record may not end up active with an empty mapping.
func (r *Registry) Update(id string, params UpdateParams) (*models.TemplateRecord, error) {
	record, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	if params.SubsidyType != nil {
		record.SubsidyType = *params.SubsidyType
	}
	if params.DisplayName != nil {
		if strings.TrimSpace(*params.DisplayName) == "" {
			return nil, newValidationError("displayName must be non-empty")
		}
		record.DisplayName = *params.DisplayName
	}
	if params.Description != nil {
		record.Description = *params.Description
	}
	if params.FieldMapping != nil {
		record.FieldMapping = *params.FieldMapping
	}
	if params.IsActive != nil {
		record.IsActive = *params.IsActive
	}
	if params.IsGovernmentOfficial != nil {
		record.IsGovernmentOfficial = *params.IsGovernmentOfficial
	}

	if err := r.checkMapping(record.FieldMapping, record.PageCount, record.IsActive); err != nil {
		return nil, err
	}

	if err := r.repo.Update(record); err != nil {
		return nil, err
	}

	r.logger.Info("Template updated",
		zap.String("id", record.ID),
		zap.Bool("active", record.IsActive),
		zap.Int("mapping_fields", record.FieldMapping.Len()))
	return record, nil
}

// Delete removes a template. Confirmation of intent is the caller's
// responsibility; the registry deletes unconditionally.
func (r *Registry) Delete(id string) error {
	if err := r.repo.Delete(id); err != nil {
		return err
	}
	r.logger.Info("Template deleted", zap.String("id", id))
	return nil
}

func (r *Registry) checkMapping(m models.FieldMapping, pageCount int, active bool) error {
	if m.Len() == 0 {
		if active {
			return newValidationError("an active template requires a non-empty field mapping")
		}
		return nil
	}
	if errs := mapping.ValidateMapping(m, pageCount); len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
