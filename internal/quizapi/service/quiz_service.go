package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qiniu/quizops/internal/quizapi/database"
	"github.com/qiniu/quizops/internal/quizapi/model"
	"github.com/rs/zerolog/log"
)

const maxQuestions = 5

// QuizService 根据课程资料生成并保存模块测验
type QuizService struct {
	store     database.QuizStore
	retriever *Retriever
	now       func() time.Time
	newSuffix func() string
}

func NewQuizService(store database.QuizStore, retriever *Retriever) *QuizService {
	return &QuizService{
		store:     store,
		retriever: retriever,
		now:       time.Now,
		newSuffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// GenerateModule 题目只由资料决定，ID 每次不同
func (s *QuizService) GenerateModule(ctx context.Context, req *model.GenerateModuleRequest) (*model.Quiz, error) {
	if req.QuizType != "module" {
		return nil, fmt.Errorf("%w: quiz_type must be \"module\", got %q", model.ErrInvalidQuiz, req.QuizType)
	}
	if req.CourseID <= 0 || req.ModuleWeek <= 0 {
		return nil, fmt.Errorf("%w: course_id and module_week must be positive", model.ErrInvalidQuiz)
	}

	materials := s.retriever.ForModule(req.CourseID, req.ModuleWeek)
	if len(materials) == 0 {
		return nil, fmt.Errorf("%w: course %d week %d", model.ErrNoMaterial, req.CourseID, req.ModuleWeek)
	}

	quiz := &model.Quiz{
		QuizID:     fmt.Sprintf("module_%d_%s", req.ModuleWeek, s.newSuffix()),
		QuizType:   req.QuizType,
		CourseID:   req.CourseID,
		ModuleWeek: req.ModuleWeek,
		Title:      fmt.Sprintf("Week %d: %s", req.ModuleWeek, materials[0].Title),
		Questions:  buildQuestions(materials, distractorPool(s.retriever.ForCourse(req.CourseID))),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Save(ctx, quiz); err != nil {
		return nil, err
	}
	log.Info().Str("quiz_id", quiz.QuizID).Int("questions", len(quiz.Questions)).Msg("quiz generated")
	return quiz, nil
}

func (s *QuizService) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	return s.store.Get(ctx, id)
}

// buildQuestions 每个句子挖掉最长的关键词做填空题
func buildQuestions(materials []*model.Material, pool []string) []*model.Question {
	var questions []*model.Question
	for _, m := range materials {
		for _, sentence := range sentences(m.Content) {
			if len(questions) == maxQuestions {
				return questions
			}
			answer := longestKeyword(sentence)
			if answer == "" {
				continue
			}
			idx := len(questions)
			options := pickDistractors(pool, answer, idx)
			pos := idx % (len(options) + 1)
			options = append(options[:pos], append([]string{answer}, options[pos:]...)...)

			questions = append(questions, &model.Question{
				ID:          fmt.Sprintf("q%d", idx+1),
				Prompt:      "Fill in the blank: " + blank(sentence, answer) + ".",
				Options:     options,
				Answer:      pos,
				Explanation: sentence + ".",
				Source:      m.Title,
			})
		}
	}
	return questions
}

func longestKeyword(sentence string) string {
	best := ""
	for _, t := range tokenize(sentence) {
		if len(t) > len(best) {
			best = t
		}
	}
	return best
}

func blank(sentence, word string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	return re.ReplaceAllString(sentence, "____")
}

// distractorPool 课程内全部关键词，排序保证结果稳定
func distractorPool(materials []*model.Material) []string {
	seen := make(map[string]bool)
	var pool []string
	for _, m := range materials {
		for _, kw := range m.Keywords {
			if !seen[kw] {
				seen[kw] = true
				pool = append(pool, kw)
			}
		}
	}
	sort.Strings(pool)
	return pool
}

func pickDistractors(pool []string, answer string, offset int) []string {
	var out []string
	for i := 0; i < len(pool) && len(out) < 3; i++ {
		w := pool[(i+offset*7)%len(pool)]
		if w != answer {
			out = append(out, w)
		}
	}
	return out
}
