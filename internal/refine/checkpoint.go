package refine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/covloop/internal/conversation"
)

// Names of files written into a run directory.
const (
	ConversationFileName = "conversation.json"
	checkpointPattern    = "log_iter_%d.txt"
	generatedPattern     = "gen_test_%d.v"
)

// CheckpointPath is the checkpoint written while the compile retry counter
// held value n.
func CheckpointPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf(checkpointPattern, n))
}

// GeneratedTestPath is the audit copy of the test generated on iteration n.
func GeneratedTestPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf(generatedPattern, n))
}

// writeCheckpoint renders the transcript followed by the status line.
func writeCheckpoint(path string, messages []conversation.Message, status string) error {
	var b strings.Builder
	b.WriteString(conversation.Render(messages))
	b.WriteString("\n\n Iteration status: ")
	b.WriteString(status)
	b.WriteString("\n")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("refine: checkpoint dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("refine: write checkpoint: %w", err)
	}
	return nil
}

func writeGeneratedTest(path, code string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("refine: generated test dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("refine: write generated test: %w", err)
	}
	return nil
}
