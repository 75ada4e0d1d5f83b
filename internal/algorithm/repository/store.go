package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"algohub/internal/algorithm/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrNameTaken          = errors.New("submission name already exists")
	ErrTestDataNotFound   = errors.New("test data not found")
	ErrStatusNotFound     = errors.New("status not found")
)

// Store persists submissions and their satellite records.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateSubmission inserts the record and its tag links. The name must be unique.
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmissionByName(ctx context.Context, name string) (*model.Submission, error)
	// UpdateSubmission overwrites every column but the tags.
	UpdateSubmission(ctx context.Context, sub *model.Submission) error
	// DeleteSubmission removes the record and its tag links.
	DeleteSubmission(ctx context.Context, id int64) error
	// SearchSubmissions matches word case-insensitively on name word boundaries.
	SearchSubmissions(ctx context.Context, word string) ([]*model.Submission, error)
	ListSubmissions(ctx context.Context) ([]*model.Submission, error)
	ListSubmissionsByTag(ctx context.Context, tag string) ([]*model.Submission, error)
	// ListNames lists names, restricted to tag when it is not empty.
	ListNames(ctx context.Context, tag string) ([]string, error)

	// ReplaceTags drops every link of the submission, then links tags, creating missing ones.
	ReplaceTags(ctx context.Context, submissionID int64, tags []string) error
	// GarbageCollectTags deletes tags no submission links to.
	GarbageCollectTags(ctx context.Context) (int64, error)

	SaveStatus(ctx context.Context, status *model.StatusRecord) error
	GetStatus(ctx context.Context, id int64) (*model.StatusRecord, error)
	DeleteStatus(ctx context.Context, id int64) error

	SaveTestData(ctx context.Context, data *model.TestData) error
	// CountTestDataReferences counts submissions whose TestDataID is id.
	CountTestDataReferences(ctx context.Context, id int64) (int64, error)
	GetTestData(ctx context.Context, id int64) (*model.TestData, error)
	DeleteTestData(ctx context.Context, id int64) error
}

// WordPattern returns the regular expression used by SearchSubmissions.
// boundary is `\b` for Go and MySQL (ICU) or `\y` for PostgreSQL.
func WordPattern(word, boundary string) string {
	return fmt.Sprintf("%s%s%s", boundary, regexp.QuoteMeta(word), boundary)
}
