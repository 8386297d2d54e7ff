package model

import (
	"errors"
	"time"
)

var (
	ErrQuizNotFound = errors.New("quiz not found")
	ErrInvalidQuiz  = errors.New("invalid quiz request")
	ErrNoMaterial   = errors.New("no course material")
	ErrEmptyMessage = errors.New("message is empty")
)

// Question 单选题
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Quiz 生成的测验，ID 形如 module_<week>_<8位十六进制>
type Quiz struct {
	QuizID     string      `json:"quiz_id"`
	QuizType   string      `json:"quiz_type"`
	CourseID   int         `json:"course_id"`
	ModuleWeek int         `json:"module_week"`
	Title      string      `json:"title"`
	Questions  []*Question `json:"questions"`
	CreatedAt  time.Time   `json:"created_at"`
}

// GenerateModuleRequest 生成模块测验请求
type GenerateModuleRequest struct {
	QuizType   string `json:"quiz_type"`
	CourseID   int    `json:"course_id"`
	ModuleWeek int    `json:"module_week"`
}

// Material 课程资料中的一节
type Material struct {
	CourseID int      `json:"course_id"`
	Week     int      `json:"week"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords,omitempty"`
}
