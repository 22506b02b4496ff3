package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 2
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Assessments ---

// CreateAssessment inserts an assessment row; sections are created separately
func (r *PostgresRepository) CreateAssessment(ctx context.Context, a *models.Assessment, organizationID string) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	query := `
		INSERT INTO assessments (id, organization_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.pool.Exec(ctx, query, a.ID, organizationID, a.Name, string(a.Status), a.CreatedAt, a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

// GetAssessment retrieves an assessment and its sections ordered by position
func (r *PostgresRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	query := `
		SELECT id, name, status, created_at, updated_at
		FROM assessments
		WHERE id = $1
	`

	var a models.Assessment
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	a.Status = models.AssessmentStatus(status)

	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, s.description, s.position,
		       COUNT(q.id), COALESCE(SUM(q.score), 0), COALESCE(SUM(q.time_limit), 0)
		FROM sections s
		LEFT JOIN section_questions sq ON sq.section_id = s.id
		LEFT JOIN questions q ON q.id = sq.question_id
		WHERE s.assessment_id = $1
		GROUP BY s.id
		ORDER BY s.position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	a.Sections = []*models.Section{}
	total := 0
	for rows.Next() {
		sec := &models.Section{AssessmentID: id}
		var minutes int
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.Instructions, &sec.Position,
			&sec.QuestionCount, &sec.TotalScore, &minutes); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sec.Duration = models.DurationFromMinutes(minutes)
		total += minutes
		a.Sections = append(a.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sections: %w", err)
	}

	a.TotalDuration = models.TotalDuration{Hours: total / 60, Mins: total % 60}
	return &a, nil
}

// AssessmentOrganization returns the id of the organization owning an assessment
func (r *PostgresRepository) AssessmentOrganization(ctx context.Context, id string) (string, error) {
	var org string
	err := r.pool.QueryRow(ctx, `SELECT organization_id FROM assessments WHERE id = $1`, id).Scan(&org)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get assessment owner: %w", err)
	}
	return org, nil
}

// --- Sections ---

// CreateSection appends a section at position count+1 with default settings
func (r *PostgresRepository) CreateSection(ctx context.Context, assessmentID string, in models.SectionInput) (*models.Section, error) {
	sec := &models.Section{
		ID:           uuid.New().String(),
		AssessmentID: assessmentID,
		Name:         in.Name,
		Instructions: in.Description,
	}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockAssessment(ctx, tx, assessmentID); err != nil {
			return err
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO sections (id, assessment_id, name, description, position)
			SELECT $1, $2, $3, $4, COALESCE(MAX(position), 0) + 1
			FROM sections WHERE assessment_id = $2
			RETURNING position
		`, sec.ID, assessmentID, sec.Name, sec.Instructions).Scan(&sec.Position)
		if err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO section_settings (section_id) VALUES ($1)`, sec.ID); err != nil {
			return fmt.Errorf("failed to insert section settings: %w", err)
		}
		return touchAssessment(ctx, tx, assessmentID)
	})
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// UpdateSection changes name and description only
func (r *PostgresRepository) UpdateSection(ctx context.Context, assessmentID, sectionID string, in models.SectionInput) (*models.Section, error) {
	sec := &models.Section{ID: sectionID, AssessmentID: assessmentID}

	err := r.pool.QueryRow(ctx, `
		UPDATE sections SET name = $3, description = $4, updated_at = NOW()
		WHERE assessment_id = $1 AND id = $2
		RETURNING name, description, position
	`, assessmentID, sectionID, in.Name, in.Description).Scan(&sec.Name, &sec.Instructions, &sec.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update section: %w", err)
	}
	return sec, nil
}

// DeleteSection removes a section and closes the gap in positions
func (r *PostgresRepository) DeleteSection(ctx context.Context, assessmentID, sectionID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockAssessment(ctx, tx, assessmentID); err != nil {
			return err
		}

		var position int
		err := tx.QueryRow(ctx, `
			DELETE FROM sections WHERE assessment_id = $1 AND id = $2
			RETURNING position
		`, assessmentID, sectionID).Scan(&position)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to delete section: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE sections SET position = position - 1
			WHERE assessment_id = $1 AND position > $2
		`, assessmentID, position); err != nil {
			return fmt.Errorf("failed to renumber sections: %w", err)
		}
		return touchAssessment(ctx, tx, assessmentID)
	})
}

// ReorderSections applies a full 1-based ordering in one transaction
func (r *PostgresRepository) ReorderSections(ctx context.Context, assessmentID string, order []models.SectionOrder) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockAssessment(ctx, tx, assessmentID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT id FROM sections WHERE assessment_id = $1`, assessmentID)
		if err != nil {
			return fmt.Errorf("failed to list sections: %w", err)
		}
		existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to list sections: %w", err)
		}

		if err := ValidateOrder(existing, order); err != nil {
			return err
		}

		// positions are unique per assessment; the constraint is deferred to commit
		for _, o := range order {
			if _, err := tx.Exec(ctx, `
				UPDATE sections SET position = $3, updated_at = NOW()
				WHERE assessment_id = $1 AND id = $2
			`, assessmentID, o.SectionID, o.NewOrder); err != nil {
				return fmt.Errorf("failed to move section %s: %w", o.SectionID, err)
			}
		}
		return touchAssessment(ctx, tx, assessmentID)
	})
}

// ValidateOrder checks that order assigns 1..n to exactly the existing sections
func ValidateOrder(existing []string, order []models.SectionOrder) error {
	if len(order) != len(existing) {
		return fmt.Errorf("%w: expected %d sections, got %d", ErrInvalidOrder, len(existing), len(order))
	}

	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}
	seenID := make(map[string]bool, len(order))
	seenPos := make(map[int]bool, len(order))
	for _, o := range order {
		if !known[o.SectionID] || seenID[o.SectionID] {
			return fmt.Errorf("%w: unknown or repeated section %s", ErrInvalidOrder, o.SectionID)
		}
		if o.NewOrder < 1 || o.NewOrder > len(order) || seenPos[o.NewOrder] {
			return fmt.Errorf("%w: position %d is out of range or repeated", ErrInvalidOrder, o.NewOrder)
		}
		seenID[o.SectionID] = true
		seenPos[o.NewOrder] = true
	}
	return nil
}

// --- Settings ---

// GetSectionSettings returns stored settings with section_time derived from the questions
func (r *PostgresRepository) GetSectionSettings(ctx context.Context, assessmentID, sectionID string) (*models.SectionSettings, error) {
	query := `
		SELECT st.break_hours, st.break_mins, st.cutoff, st.proctoring, st.pooling_enabled,
		       COALESCE((
		           SELECT SUM(q.time_limit) FROM section_questions sq
		           JOIN questions q ON q.id = sq.question_id
		           WHERE sq.section_id = s.id
		       ), 0)
		FROM sections s
		JOIN section_settings st ON st.section_id = s.id
		WHERE s.assessment_id = $1 AND s.id = $2
	`

	var s models.SectionSettings
	var proctoringJSON []byte
	var minutes int
	err := r.pool.QueryRow(ctx, query, assessmentID, sectionID).Scan(
		&s.SectionBreakTime.Hours,
		&s.SectionBreakTime.Mins,
		&s.Cutoff,
		&proctoringJSON,
		&s.PoolingEnabled,
		&minutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get section settings: %w", err)
	}

	s.Proctoring = map[string]bool{}
	if proctoringJSON != nil {
		if err := json.Unmarshal(proctoringJSON, &s.Proctoring); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proctoring: %w", err)
		}
	}
	s.SectionTime = models.DurationFromMinutes(minutes)
	return &s, nil
}

// UpdateSectionSettings stores the user-set fields; a client-supplied section_time is ignored
func (r *PostgresRepository) UpdateSectionSettings(ctx context.Context, assessmentID, sectionID string, s models.SectionSettings) (*models.SectionSettings, error) {
	proctoring := s.Proctoring
	if proctoring == nil {
		proctoring = map[string]bool{}
	}
	proctoringJSON, err := json.Marshal(proctoring)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proctoring: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE section_settings st
		SET break_hours = $3, break_mins = $4, cutoff = $5, proctoring = $6, pooling_enabled = $7, updated_at = NOW()
		FROM sections s
		WHERE s.id = st.section_id AND s.assessment_id = $1 AND s.id = $2
	`, assessmentID, sectionID,
		s.SectionBreakTime.Hours, s.SectionBreakTime.Mins, s.Cutoff, proctoringJSON, s.PoolingEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to update section settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	return r.GetSectionSettings(ctx, assessmentID, sectionID)
}

// --- Section membership ---

// GetSectionQuestions lists the questions attached to a section
func (r *PostgresRepository) GetSectionQuestions(ctx context.Context, assessmentID, sectionID string) ([]models.QuestionRef, error) {
	if err := r.sectionExists(ctx, assessmentID, sectionID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT q.id, q.category_id, q.type_code, q.title, q.time_limit, q.score
		FROM section_questions sq
		JOIN questions q ON q.id = sq.question_id
		WHERE sq.section_id = $1
		ORDER BY sq.added_at, q.id
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list section questions: %w", err)
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// AddSectionQuestions attaches questions; already attached ones are skipped
func (r *PostgresRepository) AddSectionQuestions(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := sectionExistsTx(ctx, tx, assessmentID, sectionID); err != nil {
			return err
		}

		var found int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE id = ANY($1)`, questionIDs).Scan(&found); err != nil {
			return fmt.Errorf("failed to check questions: %w", err)
		}
		if found != len(questionIDs) {
			return fmt.Errorf("%w: %d of %d questions exist", ErrNotFound, found, len(questionIDs))
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO section_questions (section_id, question_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING
		`, sectionID, questionIDs); err != nil {
			return fmt.Errorf("failed to add section questions: %w", err)
		}
		return touchAssessment(ctx, tx, assessmentID)
	})
}

// RemoveSectionQuestions detaches questions from a section
func (r *PostgresRepository) RemoveSectionQuestions(ctx context.Context, assessmentID, sectionID string, questionIDs []string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := sectionExistsTx(ctx, tx, assessmentID, sectionID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM section_questions WHERE section_id = $1 AND question_id = ANY($2)
		`, sectionID, questionIDs)
		if err != nil {
			return fmt.Errorf("failed to remove section questions: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return touchAssessment(ctx, tx, assessmentID)
	})
}

// --- Question library ---

// ListQuestions queries the organization's own library or the shared global one
func (r *PostgresRepository) ListQuestions(ctx context.Context, organizationID string, q models.QuestionQuery) ([]models.QuestionRef, int, error) {
	var where []string
	var args []interface{}

	addArg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Scope == models.ScopeGlobal {
		where = append(where, "organization_id IS NULL")
	} else {
		where = append(where, "organization_id = "+addArg(organizationID))
	}
	if q.CategoryID != "" {
		where = append(where, "category_id = "+addArg(q.CategoryID))
	}
	if q.TypeCode != "" {
		where = append(where, "type_code = "+addArg(q.TypeCode))
	}
	if q.Search != "" {
		where = append(where, "title ILIKE "+addArg("%"+q.Search+"%"))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM questions"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count questions: %w", err)
	}

	query := "SELECT id, category_id, type_code, title, time_limit, score FROM questions" + clause +
		" ORDER BY category_id, id"
	if q.Limit > 0 {
		query += " LIMIT " + addArg(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + addArg(q.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, 0, err
	}
	return questions, total, nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, organization_id, is_active, created_at, last_used_at, permissions
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.OrganizationID,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	_, err := r.pool.Exec(ctx, query, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// --- helpers ---

func (r *PostgresRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) sectionExists(ctx context.Context, assessmentID, sectionID string) error {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sections WHERE assessment_id = $1 AND id = $2)
	`, assessmentID, sectionID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check section: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func sectionExistsTx(ctx context.Context, tx pgx.Tx, assessmentID, sectionID string) error {
	var ok bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sections WHERE assessment_id = $1 AND id = $2)
	`, assessmentID, sectionID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check section: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// lockAssessment serializes section writes per assessment
func lockAssessment(ctx context.Context, tx pgx.Tx, assessmentID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM assessments WHERE id = $1 FOR UPDATE`, assessmentID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock assessment: %w", err)
	}
	return nil
}

func touchAssessment(ctx context.Context, tx pgx.Tx, assessmentID string) error {
	if _, err := tx.Exec(ctx, `UPDATE assessments SET updated_at = NOW() WHERE id = $1`, assessmentID); err != nil {
		return fmt.Errorf("failed to touch assessment: %w", err)
	}
	return nil
}

func scanQuestions(rows pgx.Rows) ([]models.QuestionRef, error) {
	questions := []models.QuestionRef{}
	for rows.Next() {
		var q models.QuestionRef
		var title sql.NullString
		var timeLimit sql.NullInt32
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.TypeCode, &title, &timeLimit, &q.Score); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.Title = title.String
		if timeLimit.Valid && timeLimit.Int32 > 0 {
			q.TimeLimit = models.TimeLimit(timeLimit.Int32)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
