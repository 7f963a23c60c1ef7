package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"policy-rag-go/internal/model"
)

// DocumentRepository is the catalog of ingested documents.
type DocumentRepository interface {
	// Upsert creates the record or overwrites every column of an existing one.
	Upsert(record *model.DocumentRecord) error
	UpdateStatus(docID, status, lastError string) error
	FindByDocID(docID string) (*model.DocumentRecord, error)
	List(offset, limit int) ([]model.DocumentRecord, int64, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a GORM backed DocumentRepository.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Upsert(record *model.DocumentRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_id"}},
		UpdateAll: true,
	}).Create(record).Error
}

// UpdateStatus changes the status of an existing record, creating a bare
// one when the document is not catalogued yet.
func (r *documentRepository) UpdateStatus(docID, status, lastError string) error {
	res := r.db.Model(&model.DocumentRecord{}).Where("doc_id = ?", docID).
		Updates(map[string]interface{}{"status": status, "last_error": lastError})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.db.Create(&model.DocumentRecord{DocID: docID, Status: status, LastError: lastError}).Error
	}
	return nil
}

// FindByDocID returns model.ErrNotFound when the document is not catalogued.
func (r *documentRepository) FindByDocID(docID string) (*model.DocumentRecord, error) {
	var record model.DocumentRecord
	err := r.db.Where("doc_id = ?", docID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns a page of records, most recently updated first, and the total.
func (r *documentRepository) List(offset, limit int) ([]model.DocumentRecord, int64, error) {
	var records []model.DocumentRecord
	var total int64
	if err := r.db.Model(&model.DocumentRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.Order("updated_at desc").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}
