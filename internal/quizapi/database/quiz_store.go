package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/qiniu/quizops/internal/quizapi/model"
)

// QuizStore 测验持久化
type QuizStore interface {
	Save(ctx context.Context, quiz *model.Quiz) error
	Get(ctx context.Context, id string) (*model.Quiz, error)
}

const quizSchema = `
CREATE TABLE IF NOT EXISTS quizzes (
	quiz_id     TEXT PRIMARY KEY,
	quiz_type   TEXT NOT NULL,
	course_id   INTEGER NOT NULL,
	module_week INTEGER NOT NULL,
	title       TEXT NOT NULL,
	questions   JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

// PostgresQuizStore 测验保存在 quizzes 表，题目为 JSONB
type PostgresQuizStore struct {
	db *Database
}

func NewPostgresQuizStore(db *Database) *PostgresQuizStore {
	return &PostgresQuizStore{db: db}
}

// EnsureSchema 建表，可重复执行
func (s *PostgresQuizStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, quizSchema); err != nil {
		return fmt.Errorf("failed to create quizzes table: %w", err)
	}
	return nil
}

func (s *PostgresQuizStore) Save(ctx context.Context, quiz *model.Quiz) error {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}
	query := `INSERT INTO quizzes (quiz_id, quiz_type, course_id, module_week, title, questions, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.db.ExecContext(ctx, query, quiz.QuizID, quiz.QuizType, quiz.CourseID, quiz.ModuleWeek,
		quiz.Title, string(questions), quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert quiz %s: %w", quiz.QuizID, err)
	}
	return nil
}

func (s *PostgresQuizStore) Get(ctx context.Context, id string) (*model.Quiz, error) {
	query := `SELECT quiz_id, quiz_type, course_id, module_week, title, questions, created_at
	          FROM quizzes WHERE quiz_id = $1`
	row := s.db.QueryRowContext(ctx, query, id)

	var quiz model.Quiz
	var questions []byte
	if err := row.Scan(&quiz.QuizID, &quiz.QuizType, &quiz.CourseID, &quiz.ModuleWeek,
		&quiz.Title, &questions, &quiz.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrQuizNotFound, id)
		}
		return nil, fmt.Errorf("failed to query quiz %s: %w", id, err)
	}
	if err := json.Unmarshal(questions, &quiz.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions of %s: %w", id, err)
	}
	return &quiz, nil
}

// MemoryQuizStore 未配置数据库时使用，重启后数据丢失
type MemoryQuizStore struct {
	mu      sync.RWMutex
	quizzes map[string][]byte
}

func NewMemoryQuizStore() *MemoryQuizStore {
	return &MemoryQuizStore{quizzes: make(map[string][]byte)}
}

// Save 以 JSON 保存，Get 返回的是独立副本
func (s *MemoryQuizStore) Save(_ context.Context, quiz *model.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("failed to marshal quiz: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.QuizID] = data
	return nil
}

func (s *MemoryQuizStore) Get(_ context.Context, id string) (*model.Quiz, error) {
	s.mu.RLock()
	data, ok := s.quizzes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrQuizNotFound, id)
	}
	var quiz model.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}
