package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/log"
	"github.com/capiware/capi-orchestrator/model"
)

const classifierInstruction = `You classify financial-assistant queries.
Answer with a single JSON object:
{"intent": "<INTENT>", "confidence": <0..1>, "target_agent": "<agent or empty>"}
Valid intents: GREETING, SMALL_TALK, SUMMARY_REQUEST, BRANCH_QUERY,
ANOMALY_QUERY, FILE_OPERATION, DB_OPERATION, GOOGLE_WORKSPACE,
GOOGLE_GMAIL, GOOGLE_DRIVE, GOOGLE_CALENDAR, QUERY, UNKNOWN.`

// LLMService classifies with a language model and degrades to the
// heuristic rules when the model call fails or returns garbage.
type LLMService struct {
	model    model.Model
	fallback *HeuristicService
}

// NewLLMService creates an LLM-backed classifier.
func NewLLMService(m model.Model) *LLMService {
	return &LLMService{
		model:    m,
		fallback: NewHeuristicService(),
	}
}

type llmVerdict struct {
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	TargetAgent string  `json:"target_agent"`
}

// Classify asks the model for a verdict; any fault falls back to the
// heuristic classifier so the turn never aborts here.
func (s *LLMService) Classify(ctx context.Context, query string, history []graph.Turn) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return &Result{Intent: graph.IntentUnknown, Confidence: 0}, nil
	}
	messages := []model.Message{model.NewSystemMessage(classifierInstruction)}
	for _, turn := range tail(history, 4) {
		if turn.Role == "user" {
			messages = append(messages, model.NewUserMessage(turn.Content))
		} else {
			messages = append(messages, model.NewAssistantMessage(turn.Content))
		}
	}
	messages = append(messages, model.NewUserMessage(query))

	resp, err := s.model.GenerateContent(ctx, &model.Request{Messages: messages})
	if err != nil {
		log.Warnf("intent: llm classification failed, using heuristics: %v", err)
		return s.fallback.Classify(ctx, query, history)
	}
	verdict, ok := parseVerdict(resp.Content)
	if !ok {
		log.Warnf("intent: unparseable llm verdict %q, using heuristics", resp.Content)
		return s.fallback.Classify(ctx, query, history)
	}
	result := &Result{
		Intent:      graph.Intent(verdict.Intent),
		Confidence:  clamp01(verdict.Confidence),
		TargetAgent: verdict.TargetAgent,
	}
	if !validIntent(result.Intent) {
		return s.fallback.Classify(ctx, query, history)
	}
	return result, nil
}

func parseVerdict(content string) (*llmVerdict, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var verdict llmVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, false
	}
	return &verdict, verdict.Intent != ""
}

func validIntent(i graph.Intent) bool {
	switch i {
	case graph.IntentGreeting, graph.IntentSmallTalk, graph.IntentSummaryRequest,
		graph.IntentBranchQuery, graph.IntentAnomalyQuery, graph.IntentFileOperation,
		graph.IntentDBOperation, graph.IntentGoogleWorkspace, graph.IntentGoogleGmail,
		graph.IntentGoogleDrive, graph.IntentGoogleCalendar, graph.IntentQuery,
		graph.IntentUnknown:
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tail(turns []graph.Turn, n int) []graph.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
