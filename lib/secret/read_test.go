// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFromPath_File(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain value",
			content:  "hub-sealing-key",
			expected: "hub-sealing-key",
		},
		{
			name:     "trailing newline",
			content:  "hub-sealing-key\n",
			expected: "hub-sealing-key",
		},
		{
			name:     "surrounding whitespace",
			content:  "  hub-sealing-key  \n",
			expected: "hub-sealing-key",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(tempDir, test.name)
			if err := os.WriteFile(path, []byte(test.content), 0600); err != nil {
				t.Fatalf("writing test file: %v", err)
			}

			result, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath() error: %v", err)
			}
			defer result.Close()
			if result.String() != test.expected {
				t.Errorf("ReadFromPath() = %q, want %q", result.String(), test.expected)
			}
		})
	}
}

func TestReadFromPath_FileNotFound(t *testing.T) {
	if _, err := ReadFromPath("/nonexistent/path/to/key"); err == nil {
		t.Error("ReadFromPath() with nonexistent file should return error")
	}
}

func TestReadFromPath_EmptyOrWhitespace(t *testing.T) {
	for _, content := range []string{"", "   \n\t\n"} {
		path := filepath.Join(t.TempDir(), "key")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("writing test file: %v", err)
		}
		if _, err := ReadFromPath(path); err == nil {
			t.Errorf("ReadFromPath() with content %q should return error", content)
		}
	}
}
