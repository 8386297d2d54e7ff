package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/quizops/internal/quizapi/database"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/rs/zerolog/log"
)

// ChatService 基于检索资料和会话历史的问答
type ChatService struct {
	sessions  database.SessionStore
	retriever *Retriever
	now       func() time.Time
}

func NewChatService(sessions database.SessionStore, retriever *Retriever) *ChatService {
	return &ChatService{sessions: sessions, retriever: retriever, now: time.Now}
}

// Chat session_id 为空时创建新会话，未知的 session_id 从空历史开始
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, model.ErrEmptyMessage
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	hits := s.retriever.Search(message+" "+lastUserMessage(history), 2)
	reply := compose(message, history, hits)
	sources := make([]string, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, h.Title)
	}

	now := s.now().UTC()
	n, err := s.sessions.Append(ctx, sessionID,
		&model.ChatTurn{Role: model.RoleUser, Content: message, At: now},
		&model.ChatTurn{Role: model.RoleAssistant, Content: reply, At: now},
	)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("session", sessionID).Int("history", n).Int("sources", len(sources)).Msg("chat turn")
	return &model.ChatResponse{
		SessionID:     sessionID,
		Response:      reply,
		HistoryLength: n,
		Sources:       sources,
	}, nil
}

func lastUserMessage(history []*model.ChatTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func firstUserMessage(history []*model.ChatTurn) string {
	for _, t := range history {
		if t.Role == model.RoleUser {
			return t.Content
		}
	}
	return ""
}

// compose 有历史时先复述第一轮，再给出检索到的资料
func compose(message string, history []*model.ChatTurn, hits []*model.Material) string {
	var b strings.Builder
	if first := firstUserMessage(history); first != "" {
		fmt.Fprintf(&b, "Earlier in this conversation you said: %q. ", first)
	}
	if len(hits) == 0 {
		fmt.Fprintf(&b, "I could not find course material about %q.", truncate(message, 80))
		return b.String()
	}
	for i, h := range hits {
		if i > 0 {
			b.WriteString(" ")
		}
		summary := h.Title
		if s := sentences(h.Content); len(s) > 0 {
			summary = s[0]
		}
		fmt.Fprintf(&b, "From %q: %s.", h.Title, summary)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
