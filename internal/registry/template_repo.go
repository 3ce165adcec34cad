package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

// TemplateRepository persists template records in SQLite. Insertion order is
// the rowid order, which ListBySubsidyType relies on.
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `
	id, subsidy_type, display_name, description, source_file, page_count,
	has_native_form_fields, field_mapping, is_active, is_government_official,
	uploaded_at
`

// Insert stores a new template record.
func (r *TemplateRepository) Insert(record *models.TemplateRecord) error {
	mappingJSON, err := json.Marshal(record.FieldMapping)
	if err != nil {
		return fmt.Errorf("failed to encode field mapping: %w", err)
	}

	query := `
		INSERT INTO templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		record.ID,
		string(record.SubsidyType),
		record.DisplayName,
		record.Description,
		record.SourceFile,
		record.PageCount,
		record.HasNativeFormFields,
		string(mappingJSON),
		record.IsActive,
		record.IsGovernmentOfficial,
		record.UploadedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateID
		}
		r.logger.Error("Failed to insert template", zap.String("id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// isDuplicateKey reports whether err is a primary-key or unique-constraint
// violation. The registry pre-checks for duplicates, but concurrent inserts
// can still race to the constraint itself.
func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// GetByID retrieves a template record. Returns (nil, nil) when absent.
func (r *TemplateRepository) GetByID(id string) (*models.TemplateRecord, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = ?`

	record, err := r.scanOne(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return record, nil
}

// ListBySubsidyType returns templates for a subsidy type in insertion order.
// An empty subsidyType matches all templates.
func (r *TemplateRepository) ListBySubsidyType(subsidyType models.SubsidyType, activeOnly bool) ([]*models.TemplateRecord, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE 1=1`
	var args []interface{}

	if subsidyType != "" {
		query += ` AND subsidy_type = ?`
		args = append(args, string(subsidyType))
	}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY rowid`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var records []*models.TemplateRecord
	for rows.Next() {
		record, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return records, nil
}

// Update overwrites the mutable columns of an existing record.
func (r *TemplateRepository) Update(record *models.TemplateRecord) error {
	mappingJSON, err := json.Marshal(record.FieldMapping)
	if err != nil {
		return fmt.Errorf("failed to encode field mapping: %w", err)
	}

	query := `
		UPDATE templates
		SET subsidy_type = ?, display_name = ?, description = ?,
			field_mapping = ?, is_active = ?, is_government_official = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		string(record.SubsidyType),
		record.DisplayName,
		record.Description,
		string(mappingJSON),
		record.IsActive,
		record.IsGovernmentOfficial,
		record.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update template", zap.String("id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template record.
func (r *TemplateRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete template", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *TemplateRepository) scanOne(row scanner) (*models.TemplateRecord, error) {
	var (
		record      models.TemplateRecord
		subsidyType string
		mappingJSON string
		uploadedAt  time.Time
	)

	err := row.Scan(
		&record.ID,
		&subsidyType,
		&record.DisplayName,
		&record.Description,
		&record.SourceFile,
		&record.PageCount,
		&record.HasNativeFormFields,
		&mappingJSON,
		&record.IsActive,
		&record.IsGovernmentOfficial,
		&uploadedAt,
	)
	if err != nil {
		return nil, err
	}

	record.SubsidyType = models.SubsidyType(subsidyType)
	record.UploadedAt = uploadedAt
	if err := json.Unmarshal([]byte(mappingJSON), &record.FieldMapping); err != nil {
		return nil, fmt.Errorf("failed to decode field mapping for %s: %w", record.ID, err)
	}
	return &record, nil
}
