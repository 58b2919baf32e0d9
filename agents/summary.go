package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/model"
)

const summaryInstruction = `Resume los resultados de la sesión en un
párrafo claro para un usuario de negocio. Mantén el idioma del usuario.`

// Summary condenses the turn's artifacts into a narrative summary,
// using the model when available and a deterministic renderer otherwise.
type Summary struct {
	model model.Model
}

// NewSummary creates the summary agent.
func NewSummary(deps agent.Deps) (agent.Agent, error) {
	return &Summary{model: deps.Model}, nil
}

// Name returns the agent name.
func (a *Summary) Name() string {
	return agent.NameSummary
}

// Process produces the session summary.
func (a *Summary) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	rendered := renderArtifacts(task.Artifacts)
	message := rendered
	if a.model != nil && rendered != "" {
		messages := []model.Message{
			model.NewSystemMessage(summaryInstruction),
			model.NewUserMessage(fmt.Sprintf("Consulta: %s\nResultados:\n%s", task.Instruction, rendered)),
		}
		if rsp, err := a.model.GenerateContent(ctx, &model.Request{Messages: messages}); err == nil {
			if content := strings.TrimSpace(rsp.Content); content != "" {
				message = content
			}
		}
	}
	if message == "" {
		message = "No hay resultados para resumir en esta sesión todavía."
	}
	return &agent.Result{
		Message: message,
		Artifact: map[string]any{
			"summary": message,
		},
		Metadata: map[string]any{
			"result_summary": "session summary produced",
		},
	}, nil
}

func renderArtifacts(artifacts map[string]map[string]any) string {
	if len(artifacts) == 0 {
		return ""
	}
	var b strings.Builder
	for name, artifact := range artifacts {
		if summary, ok := artifact["summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, summary)
			continue
		}
		if count, ok := artifact["row_count"]; ok {
			fmt.Fprintf(&b, "%s: %v fila(s)\n", name, count)
			continue
		}
		fmt.Fprintf(&b, "%s: resultado disponible\n", name)
	}
	return b.String()
}
