package model

import (
	"strings"
	"time"
)

// Submission is one registered algorithm.
type Submission struct {
	ID           int64     `json:"id,string"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	UserID       string    `json:"user_id"`
	Language     string    `json:"language"`
	SourceCode   []byte    `json:"source_code"`
	BuildOptions string    `json:"build_options"`
	TestDataID   int64     `json:"test_data_id,string"`
	StatusID     int64     `json:"status_id,string"`
	// Price is stored in minor units.
	Price     int64     `json:"price"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stores can hand out records safely.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.SourceCode = append([]byte(nil), s.SourceCode...)
	c.Tags = append([]string(nil), s.Tags...)
	return &c
}

// Tag is a label shared between submissions.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TestData is the input a built submission is run against.
type TestData struct {
	ID int64 `json:"id,string"`
	// RunOptions is split like a shell command line and passed as arguments.
	RunOptions string `json:"run_options"`
	Input      []byte `json:"input,omitempty"`
	// OwnerID is the submission that created the record. Zero means shared.
	OwnerID int64 `json:"owner_id,string"`
}

// OwnedBy reports whether the record was created by submission id.
func (t *TestData) OwnedBy(id int64) bool {
	return t != nil && id != 0 && t.OwnerID == id
}

// NormalizeTags trims, drops empties and de-duplicates in first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
