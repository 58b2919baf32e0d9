package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/capiware/capi-orchestrator/agent"
)

// Desktop performs file operations inside the session workspace:
// listing, reading and writing exports. Writes are approval-gated.
type Desktop struct {
	workspaceRoot string
}

// NewDesktop creates the capi_desktop agent.
func NewDesktop(deps agent.Deps) (agent.Agent, error) {
	return &Desktop{workspaceRoot: deps.WorkspaceRoot}, nil
}

// Name returns the agent name.
func (a *Desktop) Name() string {
	return agent.NameDesktop
}

// Process executes a file operation. The operation comes from the
// structured payload when present, otherwise it is inferred from the
// instruction.
func (a *Desktop) Process(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	op := a.resolveOperation(task)
	switch op {
	case "list":
		return a.listFiles(task)
	case "read":
		return a.readFile(task)
	case "write":
		return a.writeFile(task)
	default:
		return a.listFiles(task)
	}
}

func (a *Desktop) resolveOperation(task *agent.Task) string {
	if task.Payload != nil {
		if op, ok := task.Payload["operation"].(string); ok && op != "" {
			return strings.ToLower(op)
		}
	}
	instruction := strings.ToLower(task.Instruction)
	switch {
	case strings.Contains(instruction, "escrib") || strings.Contains(instruction, "crea") ||
		strings.Contains(instruction, "write") || strings.Contains(instruction, "guarda"):
		return "write"
	case strings.Contains(instruction, "lee") || strings.Contains(instruction, "abr") ||
		strings.Contains(instruction, "read") || strings.Contains(instruction, "contenido"):
		return "read"
	}
	return "list"
}

// sessionPath resolves a user-supplied relative path inside the session
// directory and rejects traversal outside it.
func (a *Desktop) sessionPath(sessionID, rel string) (string, error) {
	base := filepath.Join(a.workspaceRoot, "data", "sessions",
		"session_"+sanitizeToken(sessionID))
	full := filepath.Join(base, filepath.Clean("/"+rel))
	if !strings.HasPrefix(full, base) {
		return "", fmt.Errorf("path %q escapes the session workspace", rel)
	}
	return full, nil
}

func (a *Desktop) listFiles(task *agent.Task) (*agent.Result, error) {
	base := filepath.Join(a.workspaceRoot, "data", "sessions",
		"session_"+sanitizeToken(task.SessionID))
	var files []map[string]any
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		files = append(files, map[string]any{
			"path":       rel,
			"size_bytes": info.Size(),
			"modified":   info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("external_io_error: list session files: %w", err)
	}
	return &agent.Result{
		Message: fmt.Sprintf("La sesión tiene %d archivo(s).", len(files)),
		Data:    map[string]any{"files": files},
		Artifact: map[string]any{
			"files":      files,
			"file_count": len(files),
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("%d session file(s) listed", len(files)),
		},
	}, nil
}

func (a *Desktop) readFile(task *agent.Task) (*agent.Result, error) {
	rel := payloadString(task.Payload, "path")
	if rel == "" {
		return nil, fmt.Errorf("parse_error: read operation lacks a path")
	}
	full, err := a.sessionPath(task.SessionID, rel)
	if err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("external_io_error: read %s: %w", rel, err)
	}
	return &agent.Result{
		Message: fmt.Sprintf("Leí el archivo %s (%d bytes).", rel, len(data)),
		Data: map[string]any{
			"path":    rel,
			"content": string(data),
		},
		Artifact: map[string]any{
			"path":       rel,
			"size_bytes": len(data),
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("read %s", rel),
		},
	}, nil
}

func (a *Desktop) writeFile(task *agent.Task) (*agent.Result, error) {
	rel := payloadString(task.Payload, "path")
	content := payloadString(task.Payload, "content")
	if rel == "" {
		rel = exportFilename("note", "txt")
		content = task.Instruction
	}
	if task.HumanDecision == nil {
		return &agent.Result{
			RequiresApproval: true,
			ApprovalPreview: map[string]any{
				"operation":  "write",
				"path":       rel,
				"size_bytes": len(content),
			},
		}, nil
	}
	if !decisionApproved(task.HumanDecision) {
		return &agent.Result{
			Message:  fmt.Sprintf("Escritura de %s cancelada por el usuario.", rel),
			Metadata: map[string]any{"operation_cancelled": true},
		}, nil
	}
	full, err := a.sessionPath(task.SessionID, rel)
	if err != nil {
		return nil, fmt.Errorf("parse_error: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("external_io_error: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("external_io_error: write %s: %w", rel, err)
	}
	return &agent.Result{
		Message: fmt.Sprintf("Archivo %s escrito correctamente.", rel),
		Data: map[string]any{
			"path":       rel,
			"size_bytes": len(content),
		},
		Artifact: map[string]any{
			"path":       rel,
			"size_bytes": len(content),
		},
		Metadata: map[string]any{
			"result_summary": fmt.Sprintf("wrote %s", rel),
		},
	}, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
