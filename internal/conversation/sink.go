package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes the transcript as indented JSON, replacing the file
// atomically on every save.
type FileSink struct {
	Path string
}

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

type transcriptFile struct {
	Version  int       `json:"version"`
	Messages []Message `json:"messages"`
}

const transcriptVersion = 1

// Save implements Sink.
func (s *FileSink) Save(messages []Message) error {
	if s == nil || s.Path == "" {
		return errors.New("conversation: file sink path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	data, err := json.MarshalIndent(transcriptFile{Version: transcriptVersion, Messages: messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// Load reads a transcript previously written by FileSink.
func Load(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conversation: read %s: %w", path, err)
	}
	var file transcriptFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("conversation: decode %s: %w", path, err)
	}
	for i, msg := range file.Messages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("conversation: %s: message %d has unknown role %q", path, i, msg.Role)
		}
	}
	return file.Messages, nil
}
