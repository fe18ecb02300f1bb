package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/mark3labs/taskr/internal/errors"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)
	return r
}

func TestNew_CreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	r, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(r.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(r.Root()))
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestResolve_Containment(t *testing.T) {
	r := newResolver(t)
	root := r.Root()

	tests := []struct {
		name   string
		input  string
		want   string
		denied bool
	}{
		{"empty is root", "", root, false},
		{"dot is root", ".", root, false},
		{"simple file", "main.go", filepath.Join(root, "main.go"), false},
		{"nested", "src/pkg/file.go", filepath.Join(root, "src", "pkg", "file.go"), false},
		{"inner dotdot", "src/../main.go", filepath.Join(root, "main.go"), false},
		{"dot segments", "./a/./b", filepath.Join(root, "a", "b"), false},
		{"parent", "..", "", true},
		{"parent escape", "../etc/passwd", "", true},
		{"deep escape", "a/../../etc/passwd", "", true},
		{"many parents", "../../../../../../etc", "", true},
		{"absolute outside", "/etc/passwd", "", true},
		{"absolute inside", filepath.Join(root, "x.txt"), filepath.Join(root, "x.txt"), false},
		{"sibling prefix", root + "-evil/file", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.input)
			if tt.denied {
				require.Error(t, err)
				assert.True(t, ierr.Is(err, ierr.KindAccessDenied), "want AccessDenied, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got == root || strings.HasPrefix(got, root+string(filepath.Separator)))
		})
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	r := newResolver(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644))

	link := filepath.Join(r.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	// existing target behind the link
	_, err := r.Resolve("escape/secret")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))

	// not-yet-existing file under the link, checked through its ancestor
	_, err = r.Resolve("escape/new/file.txt")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))
}

func TestResolve_DanglingSymlink(t *testing.T) {
	r := newResolver(t)
	outside := t.TempDir()

	if err := os.Symlink(filepath.Join(outside, "pwned.txt"), filepath.Join(r.Root(), "evil")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	_, err := r.Resolve("evil")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))

	// relative target climbing out of the root
	require.NoError(t, os.Symlink("../outside.txt", filepath.Join(r.Root(), "up")))
	_, err = r.Resolve("up")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))

	// dangling directory link with a path below it
	require.NoError(t, os.Symlink(filepath.Join(outside, "missing"), filepath.Join(r.Root(), "dir")))
	_, err = r.Resolve("dir/sub/file.txt")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))

	// a chain of dangling links that ends inside the workspace is fine
	require.NoError(t, os.Symlink("second", filepath.Join(r.Root(), "first")))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(r.Root(), "second")))
	got, err := r.Resolve("first")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root(), "first"), got)
}

func TestResolve_SymlinkLoop(t *testing.T) {
	r := newResolver(t)
	if err := os.Symlink("b", filepath.Join(r.Root(), "a")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink("a", filepath.Join(r.Root(), "b")))

	_, err := r.Resolve("a")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.KindAccessDenied))
}

func TestResolve_SymlinkInside(t *testing.T) {
	r := newResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "real"), 0755))
	if err := os.Symlink(filepath.Join(r.Root(), "real"), filepath.Join(r.Root(), "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := r.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Root(), "alias", "file.txt"), got)
}

func TestRel(t *testing.T) {
	r := newResolver(t)
	assert.Equal(t, ".", r.Rel(r.Root()))
	assert.Equal(t, "a/b.txt", r.Rel(filepath.Join(r.Root(), "a", "b.txt")))
	assert.True(t, r.IsRoot(r.Root()))
	assert.False(t, r.IsRoot(filepath.Join(r.Root(), "a")))
}
