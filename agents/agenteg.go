package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
)

// AgenteG fronts Google Workspace operations (Gmail, Drive, Calendar).
// The transport behind it is pluggable; without one configured it
// reports the capability as unavailable instead of failing the turn.
type AgenteG struct {
	workspace WorkspaceClient
}

// WorkspaceClient is the Google Workspace operation surface AgenteG
// delegates to.
type WorkspaceClient interface {
	ListMessages(ctx context.Context, query string, limit int) ([]map[string]any, error)
	ListFiles(ctx context.Context, query string, limit int) ([]map[string]any, error)
	ListEvents(ctx context.Context, query string, limit int) ([]map[string]any, error)
}

// NewAgenteG creates the agente_g agent without a workspace client.
func NewAgenteG(agent.Deps) (agent.Agent, error) {
	return &AgenteG{}, nil
}

// NewAgenteGWithClient creates the agent bound to a workspace client.
func NewAgenteGWithClient(client WorkspaceClient) *AgenteG {
	return &AgenteG{workspace: client}
}

// Name returns the agent name.
func (a *AgenteG) Name() string {
	return agent.NameAgenteG
}

// Process dispatches to the Gmail, Drive or Calendar surface based on
// the instruction.
func (a *AgenteG) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	service := resolveWorkspaceService(task)
	if a.workspace == nil {
		return &agent.Result{
			Message: fmt.Sprintf("La integración con Google %s no está configurada en este entorno.",
				serviceLabel(service)),
			Metadata: map[string]any{
				"result_summary":      fmt.Sprintf("%s integration unavailable", service),
				"service_unavailable": true,
			},
		}, nil
	}

	var (
		items []map[string]any
		err   error
	)
	switch service {
	case "drive":
		items, err = a.workspace.ListFiles(ctx, task.Instruction, 10)
	case "calendar":
		items, err = a.workspace.ListEvents(ctx, task.Instruction, 10)
	default:
		items, err = a.workspace.ListMessages(ctx, task.Instruction, 10)
	}
	if err != nil {
		return nil, fmt.Errorf("external_io_error: %s query: %w", service, err)
	}
	return &agent.Result{
		Message: fmt.Sprintf("Encontré %d resultado(s) en Google %s.", len(items), serviceLabel(service)),
		Data: map[string]any{
			"service": service,
			"items":   items,
		},
		Artifact: map[string]any{
			"service":    service,
			"items":      items,
			"item_count": len(items),
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("%d %s item(s)", len(items), service),
		},
	}, nil
}

func resolveWorkspaceService(task *agent.Task) string {
	instruction := strings.ToLower(task.Instruction)
	switch {
	case strings.Contains(instruction, "drive") || strings.Contains(instruction, "archivo"):
		return "drive"
	case strings.Contains(instruction, "calendar") || strings.Contains(instruction, "reuni") ||
		strings.Contains(instruction, "evento"):
		return "calendar"
	}
	return "gmail"
}

func serviceLabel(service string) string {
	switch service {
	case "drive":
		return "Drive"
	case "calendar":
		return "Calendar"
	}
	return "Gmail"
}
