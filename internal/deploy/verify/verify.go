package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/quizops/internal/config"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/rs/zerolog/log"
)

const (
	ProbeLiveness = "liveness"
	ProbeGenerate = "generate_quiz"
	ProbeRetrieve = "retrieve_quiz"
	ProbeChat     = "chat_continuity"
)

var (
	ErrProbeFailed = errors.New("probe failed")
	ErrNotReady    = errors.New("service not ready")
)

// ProbeError 验证请求失败的原因
type ProbeError struct {
	Probe      string
	StatusCode int
	Reason     string
}

func (e *ProbeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("probe %s failed (HTTP %d): %s", e.Probe, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("probe %s failed: %s", e.Probe, e.Reason)
}

func (e *ProbeError) Unwrap() error { return ErrProbeFailed }

// Verifier 对目标服务依次执行四个验证请求
type Verifier struct {
	baseURL    string
	httpClient *http.Client
	courseID   int
	moduleWeek int
	idPattern  *regexp.Regexp
	newMarker  func() string
}

// NewVerifier 创建验证器
func NewVerifier(cfg *config.VerifyConfig) *Verifier {
	return &Verifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: config.Duration(cfg.Timeout, 30*time.Second)},
		courseID:   cfg.CourseID,
		moduleWeek: cfg.ModuleWeek,
		idPattern:  regexp.MustCompile(fmt.Sprintf(`^module_%d_.+$`, cfg.ModuleWeek)),
		newMarker: func() string {
			return "qo-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

type quizPayload struct {
	QuizID    string            `json:"quiz_id"`
	ID        string            `json:"id"`
	Questions []json.RawMessage `json:"questions"`
}

func (q *quizPayload) identifier() string {
	if q.QuizID != "" {
		return q.QuizID
	}
	return q.ID
}

// generateResponse 生成接口可能直接返回 quiz，也可能包在 quiz 字段中
type generateResponse struct {
	quizPayload
	Quiz *quizPayload `json:"quiz"`
}

type chatResponse struct {
	SessionID     string `json:"session_id"`
	Response      string `json:"response"`
	HistoryLength int    `json:"history_length"`
}

// Run 按顺序执行全部验证，遇到第一个失败即返回
func (v *Verifier) Run(ctx context.Context) ([]*model.ProbeResult, error) {
	var results []*model.ProbeResult
	record := func(name string, start time.Time, status int, detail string, err error) error {
		res := &model.ProbeResult{Name: name, OK: err == nil, StatusCode: status, Detail: detail, Duration: time.Since(start)}
		if err != nil {
			res.Detail = err.Error()
		}
		results = append(results, res)
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("probe", name).Int("status", status).Dur("duration", res.Duration).Msg("probe finished")
		return err
	}

	start := time.Now()
	status, err := v.liveness(ctx)
	if err := record(ProbeLiveness, start, status, "service is up", err); err != nil {
		return results, err
	}

	start = time.Now()
	quiz, status, err := v.generate(ctx)
	if err := record(ProbeGenerate, start, status, "quiz_id="+quiz.identifier(), err); err != nil {
		return results, err
	}

	start = time.Now()
	status, err = v.retrieve(ctx, quiz)
	if err := record(ProbeRetrieve, start, status, "same quiz returned", err); err != nil {
		return results, err
	}

	start = time.Now()
	sessionID, status, err := v.chat(ctx)
	if err := record(ProbeChat, start, status, "session_id="+sessionID, err); err != nil {
		return results, err
	}
	return results, nil
}

// Liveness 单独执行存活检查，用于回滚后和观察窗口
func (v *Verifier) Liveness(ctx context.Context) (*model.ProbeResult, error) {
	start := time.Now()
	status, err := v.liveness(ctx)
	res := &model.ProbeResult{Name: ProbeLiveness, OK: err == nil, StatusCode: status, Duration: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
	}
	return res, err
}

// WaitReady 在 timeout 内轮询根路径直到服务应答
func (v *Verifier) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastErr error
	for {
		_, err := v.liveness(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %v", ErrNotReady, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (v *Verifier) liveness(ctx context.Context) (int, error) {
	status, _, err := v.do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return status, &ProbeError{Probe: ProbeLiveness, StatusCode: status, Reason: err.Error()}
	}
	return status, nil
}

func (v *Verifier) generate(ctx context.Context) (*quizPayload, int, error) {
	body := map[string]any{
		"quiz_type":   "module",
		"course_id":   v.courseID,
		"module_week": v.moduleWeek,
	}
	status, data, err := v.do(ctx, http.MethodPost, "/api/quiz/generate-module", body)
	if err != nil {
		return &quizPayload{}, status, &ProbeError{Probe: ProbeGenerate, StatusCode: status, Reason: err.Error()}
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return &quizPayload{}, status, &ProbeError{Probe: ProbeGenerate, StatusCode: status, Reason: "invalid JSON: " + err.Error()}
	}
	quiz := &resp.quizPayload
	if resp.Quiz != nil && resp.Quiz.identifier() != "" {
		quiz = resp.Quiz
	}
	id := quiz.identifier()
	if id == "" {
		return quiz, status, &ProbeError{Probe: ProbeGenerate, StatusCode: status, Reason: "response has no quiz_id"}
	}
	if !v.idPattern.MatchString(id) {
		return quiz, status, &ProbeError{Probe: ProbeGenerate, StatusCode: status, Reason: fmt.Sprintf("quiz_id %q does not match %s", id, v.idPattern)}
	}
	return quiz, status, nil
}

func (v *Verifier) retrieve(ctx context.Context, want *quizPayload) (int, error) {
	id := want.identifier()
	status, data, err := v.do(ctx, http.MethodGet, "/api/quiz/"+id, nil)
	if err != nil {
		return status, &ProbeError{Probe: ProbeRetrieve, StatusCode: status, Reason: err.Error()}
	}
	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return status, &ProbeError{Probe: ProbeRetrieve, StatusCode: status, Reason: "invalid JSON: " + err.Error()}
	}
	got := &resp.quizPayload
	if resp.Quiz != nil && resp.Quiz.identifier() != "" {
		got = resp.Quiz
	}
	if got.identifier() != id {
		return status, &ProbeError{Probe: ProbeRetrieve, StatusCode: status, Reason: fmt.Sprintf("got quiz %q, want %q", got.identifier(), id)}
	}
	if len(got.Questions) != len(want.Questions) {
		return status, &ProbeError{Probe: ProbeRetrieve, StatusCode: status, Reason: fmt.Sprintf("got %d questions, want %d", len(got.Questions), len(want.Questions))}
	}
	for i := range got.Questions {
		if !jsonEqual(got.Questions[i], want.Questions[i]) {
			return status, &ProbeError{Probe: ProbeRetrieve, StatusCode: status, Reason: fmt.Sprintf("question %d differs from generated quiz", i)}
		}
	}
	return status, nil
}

// chat 第一轮消息携带唯一标记，第二轮要求服务复述，以此判断会话上下文是否延续
func (v *Verifier) chat(ctx context.Context) (string, int, error) {
	marker := v.newMarker()
	first := map[string]any{"message": fmt.Sprintf("Please remember the code word %s for this conversation.", marker)}
	status, data, err := v.do(ctx, http.MethodPost, "/api/chat", first)
	if err != nil {
		return "", status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "first turn: " + err.Error()}
	}
	var r1 chatResponse
	if err := json.Unmarshal(data, &r1); err != nil {
		return "", status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "first turn: invalid JSON: " + err.Error()}
	}
	if r1.SessionID == "" {
		return "", status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "first turn returned no session_id"}
	}

	second := map[string]any{
		"message":    "What was the code word I asked you to remember?",
		"session_id": r1.SessionID,
	}
	status, data, err = v.do(ctx, http.MethodPost, "/api/chat", second)
	if err != nil {
		return r1.SessionID, status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "second turn: " + err.Error()}
	}
	var r2 chatResponse
	if err := json.Unmarshal(data, &r2); err != nil {
		return r1.SessionID, status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "second turn: invalid JSON: " + err.Error()}
	}
	if r2.SessionID != "" && r2.SessionID != r1.SessionID {
		return r1.SessionID, status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: fmt.Sprintf("session changed from %s to %s", r1.SessionID, r2.SessionID)}
	}
	// 回复未复述标记时，只接受历史长度在第二轮确实增长的情况
	if !strings.Contains(r2.Response, marker) && r2.HistoryLength <= r1.HistoryLength {
		return r1.SessionID, status, &ProbeError{Probe: ProbeChat, StatusCode: status, Reason: "second reply does not reflect the first turn"}
	}
	return r1.SessionID, status, nil
}

// do 发送请求，非 200 视为失败
func (v *Verifier) do(ctx context.Context, method, p string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+p, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, data, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return resp.StatusCode, data, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}
	xa, _ := json.Marshal(x)
	ya, _ := json.Marshal(y)
	return bytes.Equal(xa, ya)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
