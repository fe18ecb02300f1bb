package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseIgnoreRule(t *testing.T) {
	tests := []struct {
		line     string
		wantOK   bool
		negate   bool
		dirOnly  bool
		anchored bool
		pattern  string
	}{
		{"", false, false, false, false, ""},
		{"# comment", false, false, false, false, ""},
		{"*.log", true, false, false, false, "*.log"},
		{"build/", true, false, true, false, "build"},
		{"/dist/", true, false, true, true, "dist"},
		{"foo/bar", true, false, false, true, "foo/bar"},
		{"!important.log", true, true, false, false, "important.log"},
		{"**/foo", true, false, false, false, "**/foo"},
		{"foo/**/bar", true, false, false, true, "foo/**/bar"},
		{"*.log   ", true, false, false, false, "*.log"},
		{"/", false, false, false, false, ""},
		{"!", false, false, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rule, ok := parseIgnoreRule(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("parseIgnoreRule(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if rule.negate != tt.negate || rule.dirOnly != tt.dirOnly || rule.anchored != tt.anchored {
				t.Errorf("flags = (%v,%v,%v), want (%v,%v,%v)",
					rule.negate, rule.dirOnly, rule.anchored, tt.negate, tt.dirOnly, tt.anchored)
			}
			if rule.pattern != tt.pattern {
				t.Errorf("pattern = %q, want %q", rule.pattern, tt.pattern)
			}
		})
	}
}

func TestLoadGitIgnore_WorkspaceRules(t *testing.T) {
	dir := t.TempDir()
	content := "*.o\r\n/dist\n!keep.o\nsrc/**/gen_*.go\nvendor/**\nlog[0-9].txt\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	gi := loadGitIgnore(dir)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{".git/HEAD", false, true},
		{"node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{"main.o", false, true},
		{"keep.o", false, false},
		{"dist", true, true},
		{"sub/dist", true, false},
		{"src/a/b/gen_types.go", false, true},
		{"src/main.go", false, false},
		{"src/gen_root.go", false, true},
		{"vendor", true, true},
		{"vendor/a/b.go", false, true},
		{"pkg/vendor/b.go", false, false},
		{"logs/log7.txt", false, true},
		{"logx.txt", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := gi.IsIgnored(tt.path, tt.isDir); got != tt.want {
				t.Errorf("IsIgnored(%q, isDir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestLoadGitIgnore_MissingFile(t *testing.T) {
	gi := loadGitIgnore(t.TempDir())

	if len(gi.rules) != len(alwaysIgnored) {
		t.Errorf("expected only the built-in rules, got %d", len(gi.rules))
	}
	if gi.IsIgnored("anything.go", false) {
		t.Error("built-in rules should not match ordinary files")
	}
}
