// Package scoring rates a candidate CV against a formation with a generative
// model and stores the result on the application.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/llm"
	"formation-review/internal/common/observability"
	"formation-review/internal/models"
)

// maxPromptCVChars bounds the CV text sent to the provider.
const maxPromptCVChars = 30000

// Result is one provider evaluation, score already clamped to 0..100.
type Result struct {
	Score    int
	Summary  string
	Resume   string
	Analysis models.CVAnalysis
}

// Scorer evaluates CV text against a job description.
type Scorer struct {
	generator llm.Generator
	provider  string
	timeout   time.Duration
	obs       *observability.Observability
}

func NewScorer(generator llm.Generator, provider string, timeout time.Duration, obs *observability.Observability) *Scorer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scorer{generator: generator, provider: provider, timeout: timeout, obs: obs}
}

// Score calls the provider once. Provider failures are retryable
// PROVIDER_ERROR values and a missed deadline is SCORING_TIMEOUT.
func (s *Scorer) Score(ctx context.Context, cvText, jobDescription string) (*Result, error) {
	if strings.TrimSpace(cvText) == "" {
		return nil, apperrors.NewPreconditionFailedError("CV text is empty", "")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	response, err := s.generator.GenerateContent(ctx, buildPrompt(cvText, jobDescription))
	s.obs.RecordScoring(ctx, s.provider, time.Since(start), err == nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewScoringTimeoutError()
		}
		return nil, apperrors.NewProviderError(s.provider, err)
	}

	result, err := parseResult(response)
	if err != nil {
		return nil, apperrors.NewProviderError(s.provider, err)
	}
	return result, nil
}

func buildPrompt(cvText, jobDescription string) string {
	cvText = sanitizeUTF8(cvText)
	if len(cvText) > maxPromptCVChars {
		cvText = sanitizeUTF8(cvText[:maxPromptCVChars])
	}

	var sb strings.Builder
	sb.WriteString("You are an expert recruiter reviewing a CV for admission to a training formation. ")
	sb.WriteString("Score the CV from 0 to 100 against the formation below.\n\n")

	sb.WriteString("## FORMATION\n")
	sb.WriteString(jobDescription)
	sb.WriteString("\n\n")

	sb.WriteString("## CV CONTENT\n")
	sb.WriteString(cvText)
	sb.WriteString("\n\n")

	sb.WriteString("## EVALUATION INSTRUCTIONS\n")
	sb.WriteString("Base the score on:\n")
	sb.WriteString("1. Relevance of the skills to the formation\n")
	sb.WriteString("2. Professional experience\n")
	sb.WriteString("3. Education and certifications\n")
	sb.WriteString("4. Quality of the presentation\n")
	sb.WriteString("5. Potential for growth\n\n")

	sb.WriteString("Provide your evaluation in the following JSON format:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "score": <0-100>,` + "\n")
	sb.WriteString(`  "summary": "<2-3 sentences about the fit>",` + "\n")
	sb.WriteString(`  "resume": "<3-4 sentences summarizing the CV>",` + "\n")
	sb.WriteString(`  "analysis": {` + "\n")
	sb.WriteString(`    "overview": "<detailed reasoning>",` + "\n")
	sb.WriteString(`    "strengths": ["<strength>"],` + "\n")
	sb.WriteString(`    "weaknesses": ["<weakness>"],` + "\n")
	sb.WriteString(`    "recommendations": ["<recommendation>"]` + "\n")
	sb.WriteString("  }\n")
	sb.WriteString("}\n\n")
	sb.WriteString("Return ONLY the JSON object, no additional text.\n")

	return sb.String()
}

type providerResponse struct {
	Score    float64 `json:"score"`
	Summary  string  `json:"summary"`
	Resume   string  `json:"resume"`
	Analysis struct {
		Overview        string   `json:"overview"`
		Strengths       []string `json:"strengths"`
		Weaknesses      []string `json:"weaknesses"`
		Recommendations []string `json:"recommendations"`
	} `json:"analysis"`
}

// parseResult extracts the JSON object from a response that may carry
// markdown fences or surrounding prose.
func parseResult(response string) (*Result, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var raw providerResponse
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return &Result{
		Score:   models.ClampScore(int(math.Round(raw.Score))),
		Summary: strings.TrimSpace(raw.Summary),
		Resume:  strings.TrimSpace(raw.Resume),
		Analysis: models.CVAnalysis{
			Analysis:        strings.TrimSpace(raw.Analysis.Overview),
			Strengths:       nonNil(raw.Analysis.Strengths),
			Weaknesses:      nonNil(raw.Analysis.Weaknesses),
			Recommendations: nonNil(raw.Analysis.Recommendations),
		},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
