// Package search maintains the issue search table that upgrade tasks can
// invalidate, and rebuilds it on request.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kubeflow/upgrade-manager/pkg/jobs"
)

// Document is one indexed issue.
type Document struct {
	IssueID   int64     `gorm:"primaryKey;autoIncrement:false;column:issue_id"`
	IssueKey  string    `gorm:"column:issue_key;type:varchar(64);index"`
	Content   string    `gorm:"column:content;type:text"`
	IndexedAt time.Time `gorm:"column:indexed_at"`
}

// TableName returns the GORM table name.
func (Document) TableName() string { return "issue_search_documents" }

type issueRow struct {
	ID       int64
	IssueKey string
	Summary  string
	Assignee string
	Labels   *string
}

var _ jobs.Indexer = (*Indexer)(nil)

// Indexer rebuilds the search documents from the issues table.
type Indexer struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(db *gorm.DB, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, batchSize: 500, logger: logger}
}

// AutoMigrate creates or updates the search table.
func (ix *Indexer) AutoMigrate() error {
	return ix.db.AutoMigrate(&Document{})
}

// ReindexAll implements jobs.Indexer. The old documents are replaced in a
// single transaction.
func (ix *Indexer) ReindexAll(ctx context.Context) (int, error) {
	total := 0
	err := ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Document{}).Error; err != nil {
			return fmt.Errorf("clear search documents: %w", err)
		}
		if !tx.Migrator().HasTable("issues") {
			return nil
		}

		cols := []string{"id", "issue_key", "summary", "assignee"}
		if tx.Migrator().HasColumn("issues", "labels") {
			cols = append(cols, "labels")
		}

		var lastID int64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rows []issueRow
			if err := tx.Table("issues").Select(cols).
				Where("id > ?", lastID).
				Order("id").
				Limit(ix.batchSize).
				Find(&rows).Error; err != nil {
				return fmt.Errorf("load issues: %w", err)
			}
			if len(rows) == 0 {
				return nil
			}

			now := time.Now()
			docs := make([]Document, len(rows))
			for i, r := range rows {
				docs[i] = Document{IssueID: r.ID, IssueKey: r.IssueKey, Content: content(r), IndexedAt: now}
			}
			if err := tx.Create(&docs).Error; err != nil {
				return fmt.Errorf("write search documents: %w", err)
			}
			total += len(docs)
			lastID = rows[len(rows)-1].ID
		}
	})
	if err != nil {
		return 0, err
	}
	ix.logger.Info("search index rebuilt", "documents", total)
	return total, nil
}

func content(r issueRow) string {
	parts := []string{r.IssueKey, r.Summary, r.Assignee}
	if r.Labels != nil {
		parts = append(parts, strings.Fields(strings.ReplaceAll(*r.Labels, ",", " "))...)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Search returns the keys of issues whose document contains term.
func (ix *Indexer) Search(ctx context.Context, term string) ([]string, error) {
	var keys []string
	err := ix.db.WithContext(ctx).Model(&Document{}).
		Where("content LIKE ?", "%"+strings.ToLower(term)+"%").
		Order("issue_key").
		Pluck("issue_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return keys, nil
}
