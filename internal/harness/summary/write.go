package summary

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Write routes outputs: the stdout key goes to stdout, every other key is written as a
// file under dir. Files are written in name order; the first failure is returned after
// all outputs have been attempted.
func Write(outputs Outputs, stdout io.Writer, dir string) error {
	if content, ok := outputs[StdoutKey]; ok && stdout != nil {
		if _, err := stdout.Write(content); err != nil {
			return fmt.Errorf("failed to write summary to stdout: %w", err)
		}
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		if name != StdoutKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		path := name
		if dir != "" && !filepath.IsAbs(name) {
			path = filepath.Join(dir, name)
		}
		if err := writeFile(path, outputs[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeFile(path string, content []byte) error {
	if parent := filepath.Dir(path); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
