package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/qiniu/quizops/internal/quizapi/database"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieverSearch(t *testing.T) {
	r := NewRetriever(DefaultMaterials())

	hits := r.Search("how does a snapshot help with rollback?", 2)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Deployments", hits[0].Title)

	assert.Empty(t, r.Search("zzz qqq", 2))
	assert.Len(t, r.ForModule(1, 3), 1)
	assert.Empty(t, r.ForModule(2, 1))
	assert.Len(t, r.ForCourse(1), 4)
}

func TestLoadMaterials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"course_id":7,"week":1,"title":"Intro","content":"Channels connect goroutines."}]`), 0o644))

	list, err := LoadMaterials(path)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].CourseID)

	_, err = LoadMaterials(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGenerateModule(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryQuizStore()
	svc := NewQuizService(store, NewRetriever(DefaultMaterials()))

	quiz, err := svc.GenerateModule(ctx, &model.GenerateModuleRequest{QuizType: "module", CourseID: 1, ModuleWeek: 2})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^module_2_[0-9a-f]{8}$`), quiz.QuizID)
	require.Len(t, quiz.Questions, 4)
	for _, q := range quiz.Questions {
		assert.Contains(t, q.Prompt, "____")
		require.True(t, q.Answer >= 0 && q.Answer < len(q.Options))
		assert.NotContains(t, q.Prompt, q.Options[q.Answer])
	}

	got, err := svc.GetQuiz(ctx, quiz.QuizID)
	require.NoError(t, err)
	assert.Equal(t, quiz.Questions, got.Questions)

	// 同一模块的题目相同，ID 不同
	again, err := svc.GenerateModule(ctx, &model.GenerateModuleRequest{QuizType: "module", CourseID: 1, ModuleWeek: 2})
	require.NoError(t, err)
	assert.NotEqual(t, quiz.QuizID, again.QuizID)
	assert.Equal(t, quiz.Questions, again.Questions)
}

func TestGenerateModuleRejects(t *testing.T) {
	svc := NewQuizService(database.NewMemoryQuizStore(), NewRetriever(DefaultMaterials()))
	tests := []struct {
		name string
		req  model.GenerateModuleRequest
		want error
	}{
		{"wrong type", model.GenerateModuleRequest{QuizType: "final", CourseID: 1, ModuleWeek: 1}, model.ErrInvalidQuiz},
		{"zero course", model.GenerateModuleRequest{QuizType: "module", CourseID: 0, ModuleWeek: 1}, model.ErrInvalidQuiz},
		{"negative week", model.GenerateModuleRequest{QuizType: "module", CourseID: 1, ModuleWeek: -1}, model.ErrInvalidQuiz},
		{"no material", model.GenerateModuleRequest{QuizType: "module", CourseID: 1, ModuleWeek: 9}, model.ErrNoMaterial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GenerateModule(context.Background(), &tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestChatContinuity(t *testing.T) {
	ctx := context.Background()
	svc := NewChatService(database.NewMemorySessionStore(0), NewRetriever(DefaultMaterials()))

	first, err := svc.Chat(ctx, &model.ChatRequest{Message: "Please remember the code word qo-123abc for this conversation."})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, 2, first.HistoryLength)

	second, err := svc.Chat(ctx, &model.ChatRequest{Message: "What was the code word?", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 4, second.HistoryLength)
	assert.Contains(t, second.Response, "qo-123abc")

	other, err := svc.Chat(ctx, &model.ChatRequest{Message: "What was the code word?"})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, other.SessionID)
	assert.NotContains(t, other.Response, "qo-123abc")
}

func TestChatSources(t *testing.T) {
	svc := NewChatService(database.NewMemorySessionStore(0), NewRetriever(DefaultMaterials()))
	resp, err := svc.Chat(context.Background(), &model.ChatRequest{Message: "What does a supervisor do for a service?"})
	require.NoError(t, err)
	assert.Contains(t, resp.Sources, "Processes and services")

	_, err = svc.Chat(context.Background(), &model.ChatRequest{Message: "   "})
	assert.True(t, errors.Is(err, model.ErrEmptyMessage))
}
