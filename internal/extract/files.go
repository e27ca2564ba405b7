package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ReadOptional returns the contents of path, or "" when path is empty or the
// file does not exist.
func ReadOptional(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	return string(data), nil
}
