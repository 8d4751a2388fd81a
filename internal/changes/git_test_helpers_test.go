package changes

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupGitRepo initializes a git repository in a fresh temporary directory.
func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "commit.gpgsign", "false")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// createFile writes a file relative to dir, creating parent directories.
func createFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func gitAdd(t *testing.T, dir string, files ...string) {
	t.Helper()
	runGit(t, dir, append([]string{"add"}, files...)...)
}

func gitCommit(t *testing.T, dir, message string) {
	t.Helper()
	runGit(t, dir, "commit", "-m", message)
}

// twoCommitRepo has a.py and b.py in the first commit and a change to b.py
// in the second.
func twoCommitRepo(t *testing.T) string {
	dir := setupGitRepo(t)
	createFile(t, dir, "a.py", "x = 1\n")
	createFile(t, dir, "b.py", "y = 1\n")
	gitAdd(t, dir, "a.py", "b.py")
	gitCommit(t, dir, "initial")
	createFile(t, dir, "b.py", "y = 2\n")
	gitAdd(t, dir, "b.py")
	gitCommit(t, dir, "second")
	return dir
}

// singleCommitRepo has one commit touching a python and a javascript file.
func singleCommitRepo(t *testing.T) string {
	dir := setupGitRepo(t)
	createFile(t, dir, "src/app.py", "print(1)\n")
	createFile(t, dir, "web/app.js", "console.log(1)\n")
	gitAdd(t, dir, ".")
	gitCommit(t, dir, "initial")
	return dir
}
