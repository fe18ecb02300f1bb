package tools

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// alwaysIgnored is applied before the workspace .gitignore.
var alwaysIgnored = []string{".git/", "node_modules/"}

// gitIgnore excludes workspace paths from search_files and change tracking.
// Each line of .gitignore compiles to one regexp over the slash-separated
// relative path; the last matching rule decides.
type gitIgnore struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
	re       *regexp.Regexp
}

// loadGitIgnore reads root/.gitignore on top of alwaysIgnored. A missing or
// unreadable file leaves only the built-in rules.
func loadGitIgnore(root string) *gitIgnore {
	gi := &gitIgnore{}
	for _, p := range alwaysIgnored {
		gi.addPattern(p)
	}
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return gi
	}
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		gi.addPattern(line)
	}
	return gi
}

func (gi *gitIgnore) addPattern(line string) {
	if rule, ok := parseIgnoreRule(line); ok {
		gi.rules = append(gi.rules, rule)
	}
}

// parseIgnoreRule compiles one .gitignore line. Blank lines, comments and
// patterns that do not compile are dropped.
func parseIgnoreRule(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return ignoreRule{}, false
	}

	var r ignoreRule
	line, r.negate = strings.CutPrefix(line, "!")
	r.dirOnly = strings.HasSuffix(line, "/")
	line = strings.TrimRight(line, "/")
	line, rooted := strings.CutPrefix(line, "/")
	if line == "" {
		return ignoreRule{}, false
	}
	r.pattern = line
	r.anchored = rooted || (strings.Contains(line, "/") && !strings.HasPrefix(line, "**/"))

	expr := line
	if !r.anchored && !strings.HasPrefix(expr, "**/") {
		// Unanchored names match at any depth.
		expr = "**/" + expr
	}
	re, err := compileIgnoreGlob(expr)
	if err != nil {
		return ignoreRule{}, false
	}
	r.re = re
	return r, true
}

// compileIgnoreGlob extends globToRegexp with the gitignore reading of a
// trailing "/**": the directory itself and everything below it.
func compileIgnoreGlob(expr string) (*regexp.Regexp, error) {
	dir, ok := strings.CutSuffix(expr, "/**")
	if !ok {
		return globToRegexp(expr)
	}
	re, err := globToRegexp(dir)
	if err != nil {
		return nil, err
	}
	return regexp.Compile(strings.TrimSuffix(re.String(), "$") + "(?:/.*)?$")
}

// IsIgnored reports whether relPath is excluded, either directly or because
// one of its parent directories is.
func (gi *gitIgnore) IsIgnored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	for i := 0; i < len(relPath); i++ {
		if relPath[i] == '/' && gi.match(relPath[:i], true) {
			return true
		}
	}
	return gi.match(relPath, isDir)
}

func (gi *gitIgnore) match(p string, isDir bool) bool {
	ignored := false
	for _, r := range gi.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.re.MatchString(p) {
			ignored = !r.negate
		}
	}
	return ignored
}
