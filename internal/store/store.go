package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store is the Postgres persistence layer: users, conversations, messages,
// plan run audit records, and schedules.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// PlanRunRecord is the terminal audit record of one executed plan.
type PlanRunRecord struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	PlanType       string     `json:"plan_type"`
	Status         string     `json:"status"`
	UserRequest    string     `json:"user_request"`
	Steps          []byte     `json:"steps"`
	FinalResult    string     `json:"final_result"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ScheduleRecord is one recurring plan run definition.
type ScheduleRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ConversationID string     `json:"conversation_id"`
	Query          string     `json:"query"`
	PlanType       string     `json:"plan_type"`
	Cron           string     `json:"cron"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO conversations (user_id, title) VALUES ($1,$2)
		 RETURNING id, user_id, title, created_at, updated_at`,
		userID, title).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id=$1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation fetches a conversation scoped to its owner.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (Conversation, bool, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return c, true, nil
}

// AddMessage appends a message and bumps the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) (MessageRecord, error) {
	var m MessageRecord
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES ($1,$2,$3)
		 RETURNING id, conversation_id, role, content, created_at`,
		conversationID, role, content).
		Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return MessageRecord{}, err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, conversationID)
	return m, err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id=$1 ORDER BY created_at ASC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertPlanRun writes the audit record for a terminal plan.
func (s *Store) InsertPlanRun(ctx context.Context, rec PlanRunRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO plan_runs (id, conversation_id, plan_type, status, user_request, steps, final_result, error, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.ConversationID, rec.PlanType, rec.Status, rec.UserRequest,
		rec.Steps, rec.FinalResult, rec.Error, rec.StartedAt, rec.FinishedAt)
	return err
}

func (s *Store) GetPlanRun(ctx context.Context, id string) (PlanRunRecord, bool, error) {
	var rec PlanRunRecord
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, conversation_id, plan_type, status, user_request, steps, final_result, error, started_at, finished_at, created_at
		 FROM plan_runs WHERE id=$1`, id).
		Scan(&rec.ID, &rec.ConversationID, &rec.PlanType, &rec.Status, &rec.UserRequest,
			&rec.Steps, &rec.FinalResult, &rec.Error, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRunRecord{}, false, nil
	}
	if err != nil {
		return PlanRunRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListPlanRuns(ctx context.Context, conversationID string, limit int) ([]PlanRunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, conversation_id, plan_type, status, user_request, steps, final_result, error, started_at, finished_at, created_at
		 FROM plan_runs WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlanRunRecord
	for rows.Next() {
		var rec PlanRunRecord
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.PlanType, &rec.Status, &rec.UserRequest,
			&rec.Steps, &rec.FinalResult, &rec.Error, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateSchedule(ctx context.Context, rec ScheduleRecord) (ScheduleRecord, error) {
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO schedules (user_id, conversation_id, query, plan_type, cron, enabled, next_run_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING id, created_at`,
		rec.UserID, rec.ConversationID, rec.Query, rec.PlanType, rec.Cron, rec.Enabled, rec.NextRunAt).
		Scan(&rec.ID, &rec.CreatedAt)
	return rec, err
}

func (s *Store) ListSchedules(ctx context.Context, userID string) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, query, plan_type, cron, enabled, last_run_at, next_run_at, created_at
		 FROM schedules WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListDueSchedules returns enabled schedules whose next run is due.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, query, plan_type, cron, enabled, last_run_at, next_run_at, created_at
		 FROM schedules WHERE enabled AND (next_run_at IS NULL OR next_run_at <= $1)`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// MarkScheduleRun records a firing and the computed next occurrence.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, ranAt, nextRun time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE schedules SET last_run_at=$2, next_run_at=$3 WHERE id=$1`, id, ranAt, nextRun)
	return err
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id, userID string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE schedules SET enabled=$3 WHERE id=$1 AND user_id=$2`, id, userID, enabled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

func scanSchedules(rows *sql.Rows) ([]ScheduleRecord, error) {
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &rec.Query, &rec.PlanType,
			&rec.Cron, &rec.Enabled, &rec.LastRunAt, &rec.NextRunAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
