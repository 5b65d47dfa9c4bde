package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"zenocloud/internal/logger"
	"zenocloud/internal/model"
	"zenocloud/internal/platform/objectstore"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrFileNotFound  = errors.New("file not found")
	ErrFileTooLarge  = errors.New("file is too large")
	ErrStorageFailed = errors.New("file storage failed")
)

// Caller is the authenticated user a request acts for.
type Caller struct {
	UserID   uint
	TenantID uint
	Root     bool
}

func (c Caller) canSee(doc *model.Document) bool {
	return doc.TenantID == c.TenantID && (c.Root || doc.UploadedBy == c.UserID)
}

type DocumentRepo interface {
	Create(ctx context.Context, doc *model.Document) error
	Save(ctx context.Context, doc *model.Document) error
	GetByIDAndTenant(ctx context.Context, id, tenantID uint) (*model.Document, error)
	GetByNameAndTenant(ctx context.Context, name string, tenantID uint) (*model.Document, error)
	ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error)
	ListByTenantAndUploader(ctx context.Context, tenantID, userID uint) ([]model.Document, error)
	DeleteByIDAndTenant(ctx context.Context, id, tenantID uint) error
}

// ChunkPurger removes stored embeddings, implemented by rag.VectorStore.
type ChunkPurger interface {
	DeleteByDocument(ctx context.Context, documentID uint) error
	DeleteByDocumentVersion(ctx context.Context, documentID uint, version int) error
}

type JobPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

type DocumentService struct {
	docs         DocumentRepo
	chunks       ChunkPurger
	objects      objectstore.Store
	jobs         JobPublisher
	maxFileBytes int64
	log          *logger.Logger
	now          func() time.Time
}

func NewDocumentService(
	docs DocumentRepo,
	chunks ChunkPurger,
	objects objectstore.Store,
	jobs JobPublisher,
	maxFileBytes int64,
	log *logger.Logger,
) *DocumentService {
	return &DocumentService{
		docs:         docs,
		chunks:       chunks,
		objects:      objects,
		jobs:         jobs,
		maxFileBytes: maxFileBytes,
		log:          log,
		now:          time.Now,
	}
}

type UploadInput struct {
	Caller      Caller
	Name        string
	ContentType string
	Body        io.Reader
}

// Upload stores the file and records it. Uploading an existing name creates a
// new version: status goes back to pending and the previous version's
// embeddings are purged. PDFs are queued for ingestion.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*model.Document, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(in.Name, "\\", "/")))
	if in.Caller.TenantID == 0 || in.Caller.UserID == 0 || name == "" || name == "." || name == "/" || in.Body == nil {
		return nil, ErrInvalidInput
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if int64(len(data)) > s.maxFileBytes {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, ErrInvalidInput
	}

	sum := sha256.Sum256(data)
	mimeType := detectMimeType(name, in.ContentType, data)
	key := objectstore.Key(in.Caller.TenantID, name, s.now())
	if err := s.objects.Put(ctx, key, mimeType, bytes.NewReader(data)); err != nil {
		s.log.Error("store upload failed", "key", key, "error", err)
		return nil, ErrStorageFailed
	}

	doc, err := s.docs.GetByNameAndTenant(ctx, name, in.Caller.TenantID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = &model.Document{
			TenantID:   in.Caller.TenantID,
			UploadedBy: in.Caller.UserID,
			Name:       name,
			Version:    1,
		}
	}
	prevVersion, prevKey := doc.Version, doc.StorageKey
	isNewVersion := doc.ID != 0
	if isNewVersion {
		doc.Version++
		doc.UploadedBy = in.Caller.UserID
	}
	doc.StorageKey = key
	doc.MimeType = mimeType
	doc.Size = int64(len(data))
	doc.FileHash = hex.EncodeToString(sum[:])
	doc.Status = model.StatusPending
	doc.ProcessingStartedAt = nil
	doc.LastError = ""

	if isNewVersion {
		err = s.docs.Save(ctx, doc)
	} else {
		err = s.docs.Create(ctx, doc)
	}
	if err != nil {
		_ = s.objects.Delete(ctx, key)
		return nil, err
	}

	if isNewVersion {
		if err := s.chunks.DeleteByDocumentVersion(ctx, doc.ID, prevVersion); err != nil {
			s.log.Warn("purge previous version embeddings failed", "document_id", doc.ID, "version", prevVersion, "error", err)
		}
		if prevKey != "" && prevKey != key {
			if err := s.objects.Delete(ctx, prevKey); err != nil {
				s.log.Warn("delete previous version object failed", "key", prevKey, "error", err)
			}
		}
	}

	if doc.IsIngestible() {
		job := model.IngestJob{DocumentID: doc.ID, TenantID: doc.TenantID, Version: doc.Version}
		if err := s.jobs.Publish(ctx, job); err != nil {
			s.log.Error("enqueue ingest job failed", "document_id", doc.ID, "version", doc.Version, "error", err)
		}
	}

	s.log.Info("file uploaded", "document_id", doc.ID, "tenant_id", doc.TenantID, "version", doc.Version, "size", doc.Size)
	return doc, nil
}

// List returns the caller's visible files: all tenant files for root, own uploads otherwise.
func (s *DocumentService) List(ctx context.Context, caller Caller) ([]model.Document, error) {
	if caller.TenantID == 0 {
		return nil, ErrInvalidInput
	}
	if caller.Root {
		return s.docs.ListByTenant(ctx, caller.TenantID)
	}
	return s.docs.ListByTenantAndUploader(ctx, caller.TenantID, caller.UserID)
}

func (s *DocumentService) Delete(ctx context.Context, caller Caller, id uint) error {
	if caller.TenantID == 0 || id == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndTenant(ctx, id, caller.TenantID)
	if err != nil {
		return err
	}
	if doc == nil || !caller.canSee(doc) {
		return ErrFileNotFound
	}

	if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete embeddings failed: %w", err)
	}
	if err := s.docs.DeleteByIDAndTenant(ctx, doc.ID, caller.TenantID); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, doc.StorageKey); err != nil {
		s.log.Warn("delete stored object failed", "key", doc.StorageKey, "error", err)
	}
	return nil
}

// Download opens the stored bytes of a visible file. The caller closes the reader.
func (s *DocumentService) Download(ctx context.Context, caller Caller, id uint) (*model.Document, io.ReadCloser, error) {
	if caller.TenantID == 0 || id == 0 {
		return nil, nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndTenant(ctx, id, caller.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil || !caller.canSee(doc) {
		return nil, nil, ErrFileNotFound
	}
	rc, err := s.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			s.log.Warn("stored object missing", "document_id", doc.ID, "key", doc.StorageKey)
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("open stored file failed: %w", err)
	}
	return doc, rc, nil
}

func detectMimeType(name, declared string, data []byte) string {
	if strings.EqualFold(filepath.Ext(name), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-")) {
		return model.MimePDF
	}
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
