package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	ierr "github.com/mark3labs/taskr/internal/errors"
)

type searchInput struct {
	Pattern string `json:"pattern"`
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
}

// errLimit stops a walk once enough results were collected.
var errLimit = errors.New("limit reached")

func (e *Executor) searchFiles(ctx context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[searchInput](SearchFiles, raw)
	if err != nil {
		return "", err
	}
	if in.Pattern == "" {
		in.Pattern = "**"
	}
	re, err := globToRegexp(in.Pattern)
	if err != nil {
		return "", ierr.Validation(string(SearchFiles), "invalid pattern %q: %v", in.Pattern, err)
	}
	matchBase := !strings.Contains(in.Pattern, "/")

	base, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(base); err != nil {
		return "", statError(SearchFiles, displayPath(in.Path), err)
	} else if !info.IsDir() {
		return "", ierr.Validation(string(SearchFiles), "%s is not a directory", in.Path)
	}

	ignore := loadGitIgnore(e.resolver.Root())

	// content search filters candidates afterwards, so it collects up to the
	// scan limit rather than the result limit
	limit := e.limits.MaxSearchResults
	if in.Content != "" {
		limit = e.limits.MaxSearchFiles
	}

	var (
		files     []string
		truncated bool
	)
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == base {
			return nil
		}
		rel := e.resolver.Rel(path)
		if ignore.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		candidate := rel
		if matchBase {
			candidate = d.Name()
		}
		if !re.MatchString(candidate) {
			return nil
		}
		if len(files) >= limit {
			truncated = true
			return errLimit
		}
		files = append(files, path)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimit) {
		return "", ierr.Wrap(ierr.KindExecution, string(SearchFiles), walkErr)
	}

	if in.Content == "" {
		return e.formatFileMatches(files, truncated), nil
	}
	return e.searchContent(ctx, files, truncated, in.Content)
}

func (e *Executor) formatFileMatches(files []string, truncated bool) string {
	if len(files) == 0 {
		return "No files found"
	}
	lines := make([]string, 0, len(files)+1)
	for _, f := range files {
		lines = append(lines, e.resolver.Rel(f))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("... [results limited to %d files]", e.limits.MaxSearchResults))
	}
	return strings.Join(lines, "\n")
}

// searchContent greps files for a substring. At most MaxSearchResults
// matching files are reported and MaxMatchesPerFile lines per file. Files
// whose real path leaves the workspace are skipped.
func (e *Executor) searchContent(ctx context.Context, files []string, capped bool, needle string) (string, error) {
	var (
		out     []string
		scanned int
		matched int
		limited bool
	)
	for _, path := range files {
		if ctx.Err() != nil {
			return "", ierr.Wrap(ierr.KindExecution, string(SearchFiles), ctx.Err())
		}
		if matched >= e.limits.MaxSearchResults {
			limited = true
			break
		}
		rel := e.resolver.Rel(path)
		if _, err := e.resolver.Resolve(rel); err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Size() > e.limits.MaxFileSize {
			continue
		}
		scanned++

		hits, err := grepFile(path, needle, e.limits.MaxMatchesPerFile)
		if err != nil || len(hits) == 0 {
			continue
		}
		matched++
		for _, h := range hits {
			out = append(out, fmt.Sprintf("%s:%d: %s", rel, h.line, h.text))
		}
	}

	var notes []string
	if limited {
		notes = append(notes, fmt.Sprintf("results limited to %d files", e.limits.MaxSearchResults))
	}
	if capped {
		notes = append(notes, fmt.Sprintf("content search limited to %d files", e.limits.MaxSearchFiles))
	}

	if len(out) == 0 {
		msg := fmt.Sprintf("No matches for %q in %d files", needle, scanned)
		if capped {
			msg += fmt.Sprintf(" (%s)", notes[len(notes)-1])
		}
		return msg, nil
	}
	summary := fmt.Sprintf("%d matching files (%d scanned)", matched, scanned)
	if len(notes) > 0 {
		summary += ", " + strings.Join(notes, ", ")
	}
	return strings.Join(out, "\n") + "\n\n" + summary, nil
}

type hit struct {
	line int
	text string
}

func grepFile(path, needle string, limit int) ([]hit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// binary files are skipped
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return nil, nil
	}

	var hits []hit
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), len(data)+1)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if !strings.Contains(line, needle) {
			continue
		}
		hits = append(hits, hit{line: n, text: strings.TrimSpace(truncate(line, 300))})
		if len(hits) >= limit {
			break
		}
	}
	return hits, scanner.Err()
}

// globToRegexp converts a glob with *, ? and ** into an anchored regexp.
// * and ? never cross a path separator; ** does.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	pattern = filepath.ToSlash(pattern)
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end <= 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if class[0] == '!' {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
