package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fox-gonic/fox"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/verify"
	"github.com/qiniu/quizops/internal/quizapi/database"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/qiniu/quizops/internal/quizapi/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *fox.Engine {
	t.Helper()
	retriever := service.NewRetriever(service.DefaultMaterials())
	router := fox.New()
	_, err := NewApi(
		service.NewQuizService(database.NewMemoryQuizStore(), retriever),
		service.NewChatService(database.NewMemorySessionStore(0), retriever),
		router,
	)
	require.NoError(t, err)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQuizRoutes(t *testing.T) {
	router := newRouter(t)

	w := do(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"quiz-api"}`, w.Body.String())

	w = do(router, http.MethodPost, "/api/quiz/generate-module", `{"quiz_type":"module","course_id":1,"module_week":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	var quiz model.Quiz
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quiz))
	assert.True(t, strings.HasPrefix(quiz.QuizID, "module_3_"))

	w = do(router, http.MethodGet, "/api/quiz/"+quiz.QuizID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Quiz
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, quiz.Questions, got.Questions)

	w = do(router, http.MethodGet, "/api/quiz/module_3_nothere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/quiz/generate-module", `{"quiz_type":"exam","course_id":1,"module_week":3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/quiz/generate-module", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRoute(t *testing.T) {
	router := newRouter(t)

	w := do(router, http.MethodPost, "/api/chat", `{"message":"remember qo-77"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var first model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotEmpty(t, first.SessionID)

	w = do(router, http.MethodPost, "/api/chat", `{"message":"what did I say?","session_id":"`+first.SessionID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var second model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Contains(t, second.Response, "qo-77")

	w = do(router, http.MethodPost, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 部署验证器的四个请求都应通过
func TestVerifierAgainstQuizAPI(t *testing.T) {
	srv := httptest.NewServer(newRouter(t))
	defer srv.Close()

	v := verify.NewVerifier(&config.VerifyConfig{BaseURL: srv.URL, Timeout: "5s", CourseID: 1, ModuleWeek: 1})
	results, err := v.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.OK, r.Name)
	}
}
