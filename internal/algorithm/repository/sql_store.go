package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"algohub/internal/algorithm/model"
	"algohub/internal/common/db"
	appErr "algohub/pkg/errors"
)

const submissionColumns = "id, name, description, user_id, language, source_code, build_options, test_data_id, status_id, price, created_at, updated_at"

// SQLStore persists submissions in MySQL or PostgreSQL. Queries use ? and are
// rebound by the db layer for PostgreSQL.
type SQLStore struct {
	provider db.Provider
	now      func() time.Time
}

// NewSQLStore reads the pool from provider on every call, so a swapped pool is picked up.
func NewSQLStore(provider db.Provider) *SQLStore {
	return &SQLStore{provider: provider, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

func (s *SQLStore) conn() db.Database {
	return s.provider.Current()
}

func (s *SQLStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	if sub == nil {
		return errors.New("submission is nil")
	}
	if sub.ID == 0 {
		return errors.New("submission id must be assigned before insert")
	}
	now := s.now()
	return s.conn().Transaction(ctx, func(tx db.Transaction) error {
		query := "INSERT INTO algorithms (" + submissionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		_, err := tx.Exec(ctx, query,
			sub.ID, sub.Name, sub.Description, sub.UserID, sub.Language, sub.SourceCode,
			sub.BuildOptions, sub.TestDataID, sub.StatusID, sub.Price, now, now,
		)
		if err != nil {
			if _, dup := db.UniqueViolation(err); dup {
				return ErrNameTaken
			}
			return err
		}
		if err := linkTags(ctx, tx, s.conn().Dialect(), sub.ID, sub.Tags); err != nil {
			return err
		}
		sub.CreatedAt, sub.UpdatedAt = now, now
		return nil
	})
}

func (s *SQLStore) GetSubmissionByName(ctx context.Context, name string) (*model.Submission, error) {
	row := s.conn().QueryRow(ctx, "SELECT "+submissionColumns+" FROM algorithms WHERE name = ?", name)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if err := loadTags(ctx, s.conn(), []*model.Submission{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SQLStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	now := s.now()
	query := `
		UPDATE algorithms
		SET name = ?, description = ?, user_id = ?, language = ?, source_code = ?, build_options = ?,
			test_data_id = ?, status_id = ?, price = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.conn().Exec(ctx, query,
		sub.Name, sub.Description, sub.UserID, sub.Language, sub.SourceCode, sub.BuildOptions,
		sub.TestDataID, sub.StatusID, sub.Price, now, sub.ID,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrNameTaken
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmissionNotFound
	}
	sub.UpdatedAt = now
	return nil
}

func (s *SQLStore) DeleteSubmission(ctx context.Context, id int64) error {
	return s.conn().Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "DELETE FROM algorithm_tags WHERE algorithm_id = ?", id); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, "DELETE FROM algorithms WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrSubmissionNotFound
		}
		return nil
	})
}

func (s *SQLStore) SearchSubmissions(ctx context.Context, word string) ([]*model.Submission, error) {
	var query, pattern string
	switch s.conn().Dialect() {
	case db.DialectPostgres:
		query = "SELECT " + submissionColumns + " FROM algorithms WHERE name ~* ? ORDER BY name"
		pattern = WordPattern(word, `\y`)
	default:
		query = "SELECT " + submissionColumns + " FROM algorithms WHERE REGEXP_LIKE(name, ?, 'i') ORDER BY name"
		pattern = WordPattern(word, `\b`)
	}
	return s.querySubmissions(ctx, query, pattern)
}

func (s *SQLStore) ListSubmissions(ctx context.Context) ([]*model.Submission, error) {
	return s.querySubmissions(ctx, "SELECT "+submissionColumns+" FROM algorithms ORDER BY name")
}

func (s *SQLStore) ListSubmissionsByTag(ctx context.Context, tag string) ([]*model.Submission, error) {
	query := `
		SELECT a.id, a.name, a.description, a.user_id, a.language, a.source_code, a.build_options,
			a.test_data_id, a.status_id, a.price, a.created_at, a.updated_at
		FROM algorithms a
		JOIN algorithm_tags l ON l.algorithm_id = a.id
		JOIN tags t ON t.id = l.tag_id
		WHERE t.name = ?
		ORDER BY a.name`
	return s.querySubmissions(ctx, query, tag)
}

func (s *SQLStore) ListNames(ctx context.Context, tag string) ([]string, error) {
	query := "SELECT name FROM algorithms ORDER BY name"
	var args []interface{}
	if tag != "" {
		query = `
			SELECT a.name FROM algorithms a
			JOIN algorithm_tags l ON l.algorithm_id = a.id
			JOIN tags t ON t.id = l.tag_id
			WHERE t.name = ?
			ORDER BY a.name`
		args = append(args, tag)
	}
	rows, err := s.conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStore) ReplaceTags(ctx context.Context, submissionID int64, tags []string) error {
	return s.conn().Transaction(ctx, func(tx db.Transaction) error {
		var exists int64
		if err := tx.QueryRow(ctx, "SELECT COUNT(1) FROM algorithms WHERE id = ?", submissionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrSubmissionNotFound
		}
		if _, err := tx.Exec(ctx, "DELETE FROM algorithm_tags WHERE algorithm_id = ?", submissionID); err != nil {
			return err
		}
		return linkTags(ctx, tx, s.conn().Dialect(), submissionID, tags)
	})
}

func (s *SQLStore) GarbageCollectTags(ctx context.Context) (int64, error) {
	result, err := s.conn().Exec(ctx, "DELETE FROM tags WHERE id NOT IN (SELECT tag_id FROM algorithm_tags)")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLStore) SaveStatus(ctx context.Context, status *model.StatusRecord) error {
	status.UpdatedAt = s.now()
	var query string
	switch s.conn().Dialect() {
	case db.DialectPostgres:
		query = `
			INSERT INTO algorithm_status (id, phase, code, message, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET phase = EXCLUDED.phase, code = EXCLUDED.code,
				message = EXCLUDED.message, updated_at = EXCLUDED.updated_at`
	default:
		query = `
			INSERT INTO algorithm_status (id, phase, code, message, updated_at) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE phase = VALUES(phase), code = VALUES(code),
				message = VALUES(message), updated_at = VALUES(updated_at)`
	}
	_, err := s.conn().Exec(ctx, query, status.ID, status.Phase, int(status.Code), status.Message, status.UpdatedAt)
	return err
}

func (s *SQLStore) GetStatus(ctx context.Context, id int64) (*model.StatusRecord, error) {
	row := s.conn().QueryRow(ctx, "SELECT id, phase, code, message, updated_at FROM algorithm_status WHERE id = ?", id)
	var st model.StatusRecord
	var code int
	if err := row.Scan(&st.ID, &st.Phase, &code, &st.Message, &st.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}
	st.Code = appErr.ErrorCode(code)
	return &st, nil
}

func (s *SQLStore) DeleteStatus(ctx context.Context, id int64) error {
	_, err := s.conn().Exec(ctx, "DELETE FROM algorithm_status WHERE id = ?", id)
	return err
}

func (s *SQLStore) SaveTestData(ctx context.Context, data *model.TestData) error {
	var query string
	switch s.conn().Dialect() {
	case db.DialectPostgres:
		query = `
			INSERT INTO test_data (id, run_options, input, owner_id) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET run_options = EXCLUDED.run_options, input = EXCLUDED.input`
	default:
		query = `
			INSERT INTO test_data (id, run_options, input, owner_id) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE run_options = VALUES(run_options), input = VALUES(input)`
	}
	_, err := s.conn().Exec(ctx, query, data.ID, data.RunOptions, data.Input, data.OwnerID)
	return err
}

func (s *SQLStore) GetTestData(ctx context.Context, id int64) (*model.TestData, error) {
	row := s.conn().QueryRow(ctx, "SELECT id, run_options, input, owner_id FROM test_data WHERE id = ?", id)
	var td model.TestData
	if err := row.Scan(&td.ID, &td.RunOptions, &td.Input, &td.OwnerID); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTestDataNotFound
		}
		return nil, err
	}
	return &td, nil
}

func (s *SQLStore) CountTestDataReferences(ctx context.Context, id int64) (int64, error) {
	var n int64
	if err := s.conn().QueryRow(ctx, "SELECT COUNT(*) FROM algorithms WHERE test_data_id = ?", id).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) DeleteTestData(ctx context.Context, id int64) error {
	_, err := s.conn().Exec(ctx, "DELETE FROM test_data WHERE id = ?", id)
	return err
}

func (s *SQLStore) querySubmissions(ctx context.Context, query string, args ...interface{}) ([]*model.Submission, error) {
	rows, err := s.conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	subs := []*model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if err := loadTags(ctx, s.conn(), subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// linkTags get-or-creates each tag and links it. The insert ignores a
// concurrent duplicate so the enclosing transaction stays usable.
func linkTags(ctx context.Context, q db.Querier, dialect db.Dialect, submissionID int64, tags []string) error {
	insertTag := "INSERT IGNORE INTO tags (name) VALUES (?)"
	if dialect == db.DialectPostgres {
		insertTag = "INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING"
	}
	for _, name := range model.NormalizeTags(tags) {
		tagID, err := tagIDByName(ctx, q, name)
		if errors.Is(err, errTagMissing) {
			if _, err := q.Exec(ctx, insertTag, name); err != nil {
				return err
			}
			tagID, err = tagIDByName(ctx, q, name)
		}
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "INSERT INTO algorithm_tags (algorithm_id, tag_id) VALUES (?, ?)", submissionID, tagID); err != nil {
			return err
		}
	}
	return nil
}

var errTagMissing = errors.New("tag missing")

func tagIDByName(ctx context.Context, q db.Querier, name string) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return 0, errTagMissing
		}
		return 0, err
	}
	return id, nil
}

func loadTags(ctx context.Context, q db.Querier, subs []*model.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Submission, len(subs))
	args := make([]interface{}, 0, len(subs))
	for _, sub := range subs {
		sub.Tags = []string{}
		byID[sub.ID] = sub
		args = append(args, sub.ID)
	}
	query := `
		SELECT l.algorithm_id, t.name
		FROM algorithm_tags l
		JOIN tags t ON t.id = l.tag_id
		WHERE l.algorithm_id IN (` + placeholders(len(args)) + `)`
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if sub := byID[id]; sub != nil {
			sub.Tags = append(sub.Tags, name)
		}
	}
	for _, sub := range subs {
		sort.Strings(sub.Tags)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var sub model.Submission
	err := row.Scan(
		&sub.ID,
		&sub.Name,
		&sub.Description,
		&sub.UserID,
		&sub.Language,
		&sub.SourceCode,
		&sub.BuildOptions,
		&sub.TestDataID,
		&sub.StatusID,
		&sub.Price,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ Store = (*SQLStore)(nil)
