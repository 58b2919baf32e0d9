package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/model"
)

const gusInstruction = `Eres Capi Gus, el asistente conversacional de un banco.
Responde en el idioma del usuario, de forma breve y cordial. Si hay
resultados de otros agentes en el contexto, resúmelos para el usuario.`

// Gus is the conversational agent. With a model it synthesizes a reply
// from the turn context; without one it falls back to canned responses.
type Gus struct {
	model model.Model
}

// NewGus creates the capi_gus agent.
func NewGus(deps agent.Deps) (agent.Agent, error) {
	return &Gus{model: deps.Model}, nil
}

// Name returns the agent name.
func (a *Gus) Name() string {
	return agent.NameGus
}

// Process produces a conversational reply.
func (a *Gus) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	if a.model != nil {
		if msg, err := a.generate(ctx, task); err == nil && msg != "" {
			return a.result(msg), nil
		}
		// Model failure degrades to the deterministic reply.
	}
	return a.result(cannedReply(task)), nil
}

func (a *Gus) generate(ctx context.Context, task *agent.Task) (string, error) {
	messages := []model.Message{model.NewSystemMessage(gusInstruction)}
	if ctxSummary := artifactSummary(task.Artifacts); ctxSummary != "" {
		messages = append(messages, model.NewSystemMessage("Contexto de la sesión:\n"+ctxSummary))
	}
	messages = append(messages, model.NewUserMessage(task.Instruction))
	rsp, err := a.model.GenerateContent(ctx, &model.Request{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rsp.Content), nil
}

func (a *Gus) result(message string) *agent.Result {
	return &agent.Result{
		Message: message,
		Metadata: map[string]any{
			"result_summary": "conversational reply",
		},
	}
}

func cannedReply(task *agent.Task) string {
	instruction := strings.ToLower(task.Instruction)
	switch {
	case strings.Contains(instruction, "hola") || strings.Contains(instruction, "hello") ||
		strings.Contains(instruction, "buenas"):
		return "¡Hola! Soy Capi, tu asistente financiero. ¿En qué puedo ayudarte?"
	case strings.Contains(instruction, "gracias") || strings.Contains(instruction, "thank"):
		return "¡De nada! Estoy para ayudarte cuando lo necesites."
	case strings.Contains(instruction, "como estas") || strings.Contains(instruction, "cómo estás"):
		return "¡Muy bien! Listo para ayudarte con consultas de sucursales, saldos y más."
	}
	return "Estoy aquí para ayudarte con consultas financieras, saldos de sucursales y operaciones de datos. ¿Qué necesitas?"
}

// artifactSummary renders shared artifacts into a compact textual
// context block for the model.
func artifactSummary(artifacts map[string]map[string]any) string {
	if len(artifacts) == 0 {
		return ""
	}
	var b strings.Builder
	for name, artifact := range artifacts {
		if summary, ok := artifact["summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "- %s: %s\n", name, summary)
			continue
		}
		if count, ok := artifact["row_count"]; ok {
			fmt.Fprintf(&b, "- %s: %v fila(s) exportadas\n", name, count)
			continue
		}
		fmt.Fprintf(&b, "- %s: resultado disponible\n", name)
	}
	return b.String()
}
