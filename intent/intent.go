// Package intent classifies user queries into the intent taxonomy that
// drives graph routing.
package intent

import (
	"context"
	"strings"

	"github.com/capiware/capi-orchestrator/graph"
)

// Result is the outcome of a classification.
type Result struct {
	Intent      graph.Intent      `json:"intent"`
	Confidence  float64           `json:"confidence"`
	TargetAgent string            `json:"target_agent,omitempty"`
	Entities    map[string]string `json:"entities,omitempty"`
}

// Service classifies a query. Implementations fail open: on any internal
// fault they return IntentUnknown with zero confidence rather than an error
// that would abort the turn.
type Service interface {
	Classify(ctx context.Context, query string, history []graph.Turn) (*Result, error)
}

// keywordRule maps trigger substrings to an intent.
type keywordRule struct {
	intent   graph.Intent
	agent    string
	score    float64
	triggers []string
}

// Rules are ordered: the first match wins, so the more specific Google
// intents precede the generic workspace one.
var keywordRules = []keywordRule{
	{graph.IntentGoogleGmail, "agente_g", 0.85, []string{"gmail", "correo", "mail"}},
	{graph.IntentGoogleDrive, "agente_g", 0.85, []string{"drive"}},
	{graph.IntentGoogleCalendar, "agente_g", 0.85, []string{"calendar", "calendario", "agenda"}},
	{graph.IntentGoogleWorkspace, "agente_g", 0.8, []string{"google", "workspace", "docs", "sheets"}},
	{graph.IntentBranchQuery, "capi_datab", 0.9, []string{"saldo", "sucursal", "branch", "balance"}},
	{graph.IntentAnomalyQuery, "anomaly", 0.85, []string{"anomal", "fraude", "irregular", "outlier"}},
	{graph.IntentDBOperation, "capi_datab", 0.85, []string{"sql", "tabla", "consulta", "query", "insert", "update", "delete", "select"}},
	{graph.IntentFileOperation, "capi_desktop", 0.85, []string{"archivo", "abr", "fichero", "file", "excel", "xlsx", "csv", "carpeta", "desktop", "escritorio"}},
	{graph.IntentSummaryRequest, "summary", 0.8, []string{"resumen", "resumir", "summary", "summarize", "sintesis"}},
	{graph.IntentGreeting, "capi_gus", 0.95, []string{"hola", "buenas", "buen dia", "buenos dias", "hello", "hi ", "hey"}},
	{graph.IntentSmallTalk, "capi_gus", 0.75, []string{"como estas", "gracias", "thanks", "que tal", "chau", "adios"}},
}

// HeuristicService is a rule-based classifier used when no LLM is
// configured and as the degradation path when the LLM fails.
type HeuristicService struct{}

// NewHeuristicService creates a rule-based classifier.
func NewHeuristicService() *HeuristicService {
	return &HeuristicService{}
}

// Classify applies the keyword rules to the query.
func (s *HeuristicService) Classify(ctx context.Context, query string, history []graph.Turn) (*Result, error) {
	normalized := normalize(query)
	if normalized == "" {
		return &Result{Intent: graph.IntentUnknown, Confidence: 0}, nil
	}
	for _, rule := range keywordRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(normalized, trigger) {
				return &Result{
					Intent:      rule.intent,
					Confidence:  rule.score,
					TargetAgent: rule.agent,
					Entities:    extractEntities(normalized),
				}, nil
			}
		}
	}
	return &Result{Intent: graph.IntentQuery, Confidence: 0.4, Entities: extractEntities(normalized)}, nil
}

// extractEntities pulls simple numeric entities such as branch numbers.
func extractEntities(normalized string) map[string]string {
	fields := strings.Fields(normalized)
	for i, field := range fields {
		if field != "sucursal" && field != "branch" {
			continue
		}
		if i+1 < len(fields) && isDigits(fields[i+1]) {
			return map[string]string{"branch_id": fields[i+1]}
		}
	}
	for _, field := range fields {
		if isDigits(field) {
			return map[string]string{"number": field}
		}
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", "¿", "", "?", "", "¡", "", "!", "")
	return replacer.Replace(s)
}
