package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"zenocloud/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

// matches the size of documents.last_error
const maxLastErrorRunes = 1024

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// Save persists every column of doc. Used when a new version replaces the file.
func (r *DocumentRepository) Save(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("save document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByIDAndTenant(ctx context.Context, id, tenantID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByNameAndTenant(ctx context.Context, name string, tenantID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("name = ? AND tenant_id = ?", name, tenantID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by name failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("updated_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// ListByTenantAndUploader lists the tenant's documents uploaded by one user.
func (r *DocumentRepository) ListByTenantAndUploader(ctx context.Context, tenantID, userID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND uploaded_by = ?", tenantID, userID).
		Order("updated_at DESC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents by uploader failed: %w", err)
	}
	return list, nil
}

// TransitionStatus moves the given document version to status `to` if the
// state machine allows it from the current status. It reports whether a row changed.
func (r *DocumentRepository) TransitionStatus(ctx context.Context, id uint, version int, to model.DocumentStatus, lastError string) (bool, error) {
	from := model.SourcesFrom(to)
	if len(from) == 0 {
		return false, fmt.Errorf("no transition into status %q", to)
	}
	updates := map[string]interface{}{
		"status":     to,
		"last_error": truncateError(lastError),
		"updated_at": time.Now(),
	}
	if to == model.StatusProcessing {
		updates["processing_started_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND version = ? AND status IN ?", id, version, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update document status failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReclaimProcessing restarts a processing run of the given version whose
// start is older than startedBefore, so an interrupted run can be taken over.
func (r *DocumentRepository) ReclaimProcessing(ctx context.Context, id uint, version int, startedBefore time.Time) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND version = ? AND status = ?", id, version, model.StatusProcessing).
		Where("processing_started_at IS NULL OR processing_started_at < ?", startedBefore).
		Updates(map[string]interface{}{
			"processing_started_at": now,
			"last_error":            "",
			"updated_at":            now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("reclaim document failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkStaleProcessing moves documents stuck in processing since before `before` to error.
func (r *DocumentRepository) MarkStaleProcessing(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("status = ? AND processing_started_at < ?", model.StatusProcessing, before).
		Updates(map[string]interface{}{
			"status":     model.StatusError,
			"last_error": "processing abandoned",
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark stale documents failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *DocumentRepository) DeleteByIDAndTenant(ctx context.Context, id, tenantID uint) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// truncateError cuts on rune boundaries so the update stays valid UTF-8.
func truncateError(msg string) string {
	return model.TruncateRunes(msg, maxLastErrorRunes)
}
