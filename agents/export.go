package agents

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// exportDir returns the artifact directory for one agent within a
// session workspace, creating it if needed.
func exportDir(workspaceRoot, sessionID, agentName string) (string, error) {
	dir := filepath.Join(workspaceRoot, "data", "sessions",
		"session_"+sanitizeToken(sessionID), agentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	return dir, nil
}

// exportFilename builds a collision-safe filename embedding a timestamp
// and a short random token.
func exportFilename(prefix, ext string) string {
	token := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s_%s_%s.%s",
		prefix, time.Now().UTC().Format("20060102T150405"), token, ext)
}

// exportRowsCSV writes rows as a CSV export and returns the file path.
// The write goes through a temp file and rename so readers never see a
// partial export.
func exportRowsCSV(workspaceRoot, sessionID, agentName string, rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("no rows to export")
	}
	dir, err := exportDir(workspaceRoot, sessionID, agentName)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, exportFilename("export", "csv"))

	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(headers); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write export header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = fmt.Sprintf("%v", row[h])
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}

// sanitizeToken reduces an identifier to filesystem-safe characters.
func sanitizeToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
