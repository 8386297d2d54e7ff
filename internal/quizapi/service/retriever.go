package service

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/qiniu/quizops/internal/quizapi/model"
)

// DefaultMaterials 未配置资料文件时使用的内置课程资料
func DefaultMaterials() []*model.Material {
	return []*model.Material{
		{CourseID: 1, Week: 1, Title: "Processes and services",
			Content: "A process is a running instance of a program. A supervisor restarts a service when it exits. " +
				"Systemd describes each service in a unit file. Logs are collected by the journal."},
		{CourseID: 1, Week: 2, Title: "Deployments",
			Content: "A deployment copies a release bundle to the target host. A snapshot keeps the previous files for rollback. " +
				"Permissions must allow the service user to read every file. A smoke test verifies the release after restart."},
		{CourseID: 1, Week: 3, Title: "HTTP APIs",
			Content: "An endpoint is addressed by method and path. A status code of 200 signals success. " +
				"JSON encodes request and response bodies. Idempotent reads return the same resource every time."},
		{CourseID: 1, Week: 4, Title: "Retrieval",
			Content: "Retrieval finds passages related to a question. An embedding maps text to a vector. " +
				"A session keeps conversation history between turns. Context from earlier turns shapes the answer."},
	}
}

// LoadMaterials 从 JSON 文件读取资料列表
func LoadMaterials(path string) ([]*model.Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read material file %s: %w", path, err)
	}
	var list []*model.Material
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse material file %s: %w", path, err)
	}
	return list, nil
}

// Retriever 基于关键词重合度的资料检索
type Retriever struct {
	materials []*model.Material
}

func NewRetriever(materials []*model.Material) *Retriever {
	for _, m := range materials {
		if len(m.Keywords) == 0 {
			m.Keywords = keywords(m.Content)
		}
	}
	return &Retriever{materials: materials}
}

// ForModule 返回某课程某周的资料
func (r *Retriever) ForModule(courseID, week int) []*model.Material {
	var out []*model.Material
	for _, m := range r.materials {
		if m.CourseID == courseID && m.Week == week {
			out = append(out, m)
		}
	}
	return out
}

// ForCourse 返回某课程的全部资料
func (r *Retriever) ForCourse(courseID int) []*model.Material {
	var out []*model.Material
	for _, m := range r.materials {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	return out
}

// Search 按与 query 共有的关键词数排序，返回得分大于零的前 k 条
func (r *Retriever) Search(query string, k int) []*model.Material {
	terms := make(map[string]bool)
	for _, t := range tokenize(query) {
		terms[t] = true
	}
	type scored struct {
		m     *model.Material
		score int
	}
	var hits []scored
	for _, m := range r.materials {
		score := 0
		for _, kw := range m.Keywords {
			if terms[kw] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{m, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]*model.Material, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true, "from": true,
	"when": true, "every": true, "each": true, "between": true, "must": true, "after": true,
	"what": true, "your": true, "have": true, "about": true, "same": true, "time": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 3 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func keywords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokenize(s) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func sentences(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ".") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
