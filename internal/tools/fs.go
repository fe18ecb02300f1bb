package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	ierr "github.com/mark3labs/taskr/internal/errors"
)

type pathInput struct {
	Path string `json:"path"`
}

type writeInput struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

func (e *Executor) readFile(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[pathInput](ReadFile, raw)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", ierr.Validation(string(ReadFile), "path is required")
	}
	abs, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", statError(ReadFile, in.Path, err)
	}
	if info.IsDir() {
		return "", ierr.Validation(string(ReadFile), "%s is a directory, use list_files", in.Path)
	}
	if info.Size() > e.limits.MaxFileSize {
		return "", ierr.ResourceExceeded(string(ReadFile),
			"%s is %d bytes, exceeds the %d byte read limit", in.Path, info.Size(), e.limits.MaxFileSize)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(ReadFile), err)
	}
	if len(data) == 0 {
		return "(empty file)", nil
	}
	return string(data), nil
}

func (e *Executor) writeFile(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[writeInput](WriteFile, raw)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", ierr.Validation(string(WriteFile), "path is required")
	}
	if in.Content == nil {
		return "", ierr.Validation(string(WriteFile), "content is required")
	}
	content := *in.Content
	if int64(len(content)) > e.limits.MaxWriteSize {
		return "", ierr.ResourceExceeded(string(WriteFile),
			"content is %d bytes, exceeds the %d byte write limit", len(content), e.limits.MaxWriteSize)
	}

	abs, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	if e.resolver.IsRoot(abs) {
		return "", ierr.Validation(string(WriteFile), "cannot write to the workspace root")
	}

	var previous string
	isNew := true
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return "", ierr.Validation(string(WriteFile), "%s is a directory", in.Path)
		}
		isNew = false
		if info.Size() <= e.limits.MaxFileSize {
			if data, err := os.ReadFile(abs); err == nil {
				previous = string(data)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(WriteFile), fmt.Errorf("creating parent directories: %w", err))
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(WriteFile), err)
	}

	rel := e.resolver.Rel(abs)
	diff := udiff.Unified("a/"+rel, "b/"+rel, previous, content)
	additions, deletions := countDiffLines(diff)

	kind := ChangeModified
	verb := "Updated"
	if isNew {
		kind = ChangeCreated
		verb = "Created"
	}
	e.tracker.Record(abs, kind, additions, deletions)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%d bytes, +%d -%d)", verb, rel, len(content), additions, deletions)
	if diff != "" {
		b.WriteString("\n\n")
		b.WriteString(diff)
	}
	return b.String(), nil
}

// countDiffLines counts added and removed lines in a unified diff.
func countDiffLines(diff string) (additions, deletions int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}

func (e *Executor) listFiles(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[pathInput](ListFiles, raw)
	if err != nil {
		return "", err
	}
	abs, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", statError(ListFiles, displayPath(in.Path), err)
	}
	if !info.IsDir() {
		return "", ierr.Validation(string(ListFiles), "%s is not a directory", in.Path)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(ListFiles), err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			lines = append(lines, "[link] "+name)
		case entry.IsDir():
			lines = append(lines, "[dir] "+name+"/")
		default:
			size := int64(0)
			if fi, err := entry.Info(); err == nil {
				size = fi.Size()
			}
			lines = append(lines, fmt.Sprintf("[file] %s (%d bytes)", name, size))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (e *Executor) createDirectory(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[pathInput](CreateDirectory, raw)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", ierr.Validation(string(CreateDirectory), "path is required")
	}
	abs, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(abs); err == nil {
		if !info.IsDir() {
			return "", ierr.Validation(string(CreateDirectory), "%s exists and is not a directory", in.Path)
		}
		return fmt.Sprintf("Directory %s already exists", e.resolver.Rel(abs)), nil
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(CreateDirectory), err)
	}
	e.tracker.Record(abs, ChangeCreated, 0, 0)
	return fmt.Sprintf("Created directory %s", e.resolver.Rel(abs)), nil
}

// errTooMany stops the entry count walk early.
var errTooMany = errors.New("too many entries")

func (e *Executor) deleteFile(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[pathInput](DeleteFile, raw)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", ierr.Validation(string(DeleteFile), "path is required")
	}
	abs, err := e.resolver.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	if e.resolver.IsRoot(abs) {
		return "", ierr.AccessDenied(string(DeleteFile), "refusing to delete the workspace root")
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return "", statError(DeleteFile, in.Path, err)
	}
	rel := e.resolver.Rel(abs)

	if !info.IsDir() {
		if err := os.Remove(abs); err != nil {
			return "", ierr.Wrap(ierr.KindExecution, string(DeleteFile), err)
		}
		e.tracker.Record(abs, ChangeDeleted, 0, 0)
		return fmt.Sprintf("Deleted %s", rel), nil
	}

	count := 0
	walkErr := filepath.WalkDir(abs, func(_ string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		count++
		if count > e.limits.MaxDeleteFiles+1 {
			return errTooMany
		}
		return nil
	})
	// count includes the directory itself
	if errors.Is(walkErr, errTooMany) || count-1 > e.limits.MaxDeleteFiles {
		return "", ierr.ResourceExceeded(string(DeleteFile),
			"%s contains more than %d entries, refusing to delete", in.Path, e.limits.MaxDeleteFiles)
	}
	if walkErr != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(DeleteFile), walkErr)
	}

	if err := os.RemoveAll(abs); err != nil {
		return "", ierr.Wrap(ierr.KindExecution, string(DeleteFile), err)
	}
	e.tracker.Record(abs, ChangeDeleted, 0, 0)
	return fmt.Sprintf("Deleted directory %s (%d entries)", rel, count-1), nil
}

type completeInput struct {
	Summary string `json:"summary"`
}

func (e *Executor) taskComplete(_ context.Context, raw json.RawMessage) (string, error) {
	in, err := decode[completeInput](TaskComplete, raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Summary) == "" {
		return "Task marked complete.", nil
	}
	return in.Summary, nil
}

func statError(tool Name, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ierr.NotFound(string(tool), "%s does not exist", path)
	}
	return ierr.Wrap(ierr.KindExecution, string(tool), err)
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
