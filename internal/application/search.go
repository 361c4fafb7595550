package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"formation-review/internal/common/auth"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// SearchDocument is the indexed projection of an application.
type SearchDocument struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CandidateID    string    `json:"candidate_id"`
	CandidateName  string    `json:"candidate_name"`
	FormationID    string    `json:"formation_id"`
	FormationTitle string    `json:"formation_title"`
	InstructorID   string    `json:"instructor_id"`
	Message        string    `json:"message"`
	Score          *int      `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}

func toDocument(a *models.Application) SearchDocument {
	return SearchDocument{
		ID:             a.ID,
		Status:         string(a.Status),
		CandidateID:    a.CandidateID,
		CandidateName:  a.CandidateName,
		FormationID:    a.FormationID,
		FormationTitle: a.FormationTitle,
		InstructorID:   a.InstructorID,
		Message:        a.Message,
		Score:          a.Score,
		CreatedAt:      a.CreatedAt,
	}
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":              {"type": "keyword"},
      "status":          {"type": "keyword"},
      "candidate_id":    {"type": "keyword"},
      "candidate_name":  {"type": "text"},
      "formation_id":    {"type": "keyword"},
      "formation_title": {"type": "text"},
      "instructor_id":   {"type": "keyword"},
      "message":         {"type": "text"},
      "score":           {"type": "integer"},
      "created_at":      {"type": "date"}
    }
  }
}`

// SearchIndex keeps application documents in Elasticsearch. A nil index is
// disabled: writes are skipped and searches fail as unavailable.
type SearchIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewSearchIndex(client *elasticsearch.Client, index string) *SearchIndex {
	if index == "" {
		index = "course_applications"
	}
	return &SearchIndex{client: client, index: index}
}

// EnsureIndex creates the index with keyword mappings when it is missing.
func (s *SearchIndex) EnsureIndex(ctx context.Context) error {
	if s == nil {
		return nil
	}
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", s.index, res.String())
	}
	return nil
}

func (s *SearchIndex) Index(ctx context.Context, a *models.Application) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(toDocument(a))
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: a.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index application %s: %w", a.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index application %s: %s", a.ID, res.String())
	}
	return nil
}

// SearchQuery is a free-text search over the review queue.
type SearchQuery struct {
	Text   string
	Status models.ApplicationStatus
	From   int
	Size   int
}

type SearchResult struct {
	Total int64            `json:"total"`
	Hits  []SearchDocument `json:"hits"`
}

// Search runs q for the caller. Recruiters only see formations they instruct.
func (s *SearchIndex) Search(ctx context.Context, actor *auth.Identity, q SearchQuery) (*SearchResult, error) {
	if !CanListPending(actor) {
		return nil, apperrors.NewPermissionDeniedError("only reviewers can search applications")
	}
	if s == nil {
		return nil, apperrors.NewSearchQueryFailedError(fmt.Errorf("search index is disabled"))
	}

	instructorID := ""
	if actor.Role == auth.RoleRecruiter {
		instructorID = actor.UserID
	}
	body, err := json.Marshal(buildSearchQuery(q, instructorID))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if q.Size <= 0 || q.Size > 100 {
		q.Size = 20
	}
	if q.From < 0 {
		q.From = 0
	}
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		From:  &q.From,
		Size:  &q.Size,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(fmt.Errorf("%s", res.String()))
	}

	var raw struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source SearchDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(err)
	}

	out := &SearchResult{Total: raw.Hits.Total.Value, Hits: make([]SearchDocument, 0, len(raw.Hits.Hits))}
	for _, h := range raw.Hits.Hits {
		out.Hits = append(out.Hits, h.Source)
	}
	return out, nil
}

func buildSearchQuery(q SearchQuery, instructorID string) map[string]interface{} {
	must := []interface{}{}
	filter := []interface{}{}

	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"candidate_name^3", "formation_title^2", "message"},
				"type":   "best_fields",
			},
		})
	}
	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	if q.Status != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"status": string(q.Status)},
		})
	}
	if instructorID != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"instructor_id": instructorID},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			map[string]interface{}{"_score": "desc"},
			map[string]interface{}{"created_at": "desc"},
		},
	}
}
