package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		// default pattern plus *.log
		if len(m.patterns) != 2 {
			t.Fatalf("expected 2 patterns, got %d", len(m.patterns))
		}
		if m.patterns[1].pattern != "*.log" {
			t.Errorf("expected *.log, got %s", m.patterns[1].pattern)
		}
	})

	t.Run("classifies path, basename and directory patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.log", "build/output", "cache/"})
		if m.patterns[1].matchPath {
			t.Error("*.log should not be a path pattern")
		}
		if !m.patterns[2].matchPath {
			t.Error("build/output should be a path pattern")
		}
		if !m.patterns[3].dirOnly || m.patterns[3].pattern != "cache" {
			t.Errorf("cache/ parsed as %+v", m.patterns[3])
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		isDir        bool
		want         bool
	}{
		{name: "basename glob matches file in root", patterns: []string{"*.log"}, relativePath: "app.log", want: true},
		{name: "basename glob matches file in subdirectory", patterns: []string{"*.log"}, relativePath: filepath.Join("sub", "app.log"), want: true},
		{name: "basename glob does not match different extension", patterns: []string{"*.log"}, relativePath: "app.txt", want: false},
		{name: "ignore file itself is always skipped", patterns: nil, relativePath: filepath.Join("sub", IgnoreFileName), want: true},
		{name: "path pattern matches exact relative path", patterns: []string{"build/output"}, relativePath: filepath.Join("build", "output"), want: true},
		{name: "path pattern does not match wrong path", patterns: []string{"build/output"}, relativePath: filepath.Join("src", "output"), want: false},
		{name: "directory pattern matches directory", patterns: []string{"cache/"}, relativePath: "cache", isDir: true, want: true},
		{name: "directory pattern ignores files", patterns: []string{"cache/"}, relativePath: "cache", isDir: false, want: false},
		{name: "malformed pattern never matches", patterns: []string{"[oops"}, relativePath: "[oops", want: false},
		{name: "empty string path", patterns: []string{"*"}, relativePath: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.relativePath, tt.isDir); got != tt.want {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.relativePath, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads patterns from file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		if err := os.WriteFile(path, []byte("*.log\n# comment\n\n*.tmp\n"), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 4 {
			t.Fatalf("expected 4 raw lines, got %d", len(patterns))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile("/nonexistent/" + IgnoreFileName)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}
