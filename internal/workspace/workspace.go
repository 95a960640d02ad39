// Package workspace runs the git operations the pipeline needs on a local
// repository checkout.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/alekspetrov/hourglass/internal/logging"
)

// BranchPrefix prefixes every branch Hourglass creates.
const BranchPrefix = "hourglass/"

// Workspace is a git checkout.
type Workspace struct {
	dir    string
	remote string
	log    *slog.Logger
}

// New returns a workspace for the repository at dir, pushing to origin.
func New(dir string) *Workspace {
	return &Workspace{
		dir:    dir,
		remote: "origin",
		log:    logging.WithComponent("workspace"),
	}
}

// Dir is the checkout path.
func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) git(ctx context.Context, args ...string) (string, error) {
	out, err := w.gitRaw(ctx, args...)
	return strings.TrimSpace(out), err
}

// gitRaw keeps leading whitespace, which is significant in porcelain output.
func (w *Workspace) gitRaw(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// CurrentBranch returns the checked out branch.
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	return w.git(ctx, "branch", "--show-current")
}

// DefaultBranch returns the remote's default branch, falling back to main.
func (w *Workspace) DefaultBranch(ctx context.Context) string {
	ref, err := w.git(ctx, "symbolic-ref", "refs/remotes/"+w.remote+"/HEAD")
	if err != nil {
		return "main"
	}
	return strings.TrimPrefix(ref, "refs/remotes/"+w.remote+"/")
}

// HasRemote reports whether the push remote is configured.
func (w *Workspace) HasRemote(ctx context.Context) bool {
	_, err := w.git(ctx, "remote", "get-url", w.remote)
	return err == nil
}

// CheckoutBase switches to base and pulls it. A failed pull is logged and
// ignored so offline checkouts still work from local state.
func (w *Workspace) CheckoutBase(ctx context.Context, base string) error {
	if _, err := w.git(ctx, "checkout", base); err != nil {
		return fmt.Errorf("checkout %s: %w", base, err)
	}
	if !w.HasRemote(ctx) {
		return nil
	}
	if _, err := w.git(ctx, "pull", "--ff-only", w.remote, base); err != nil {
		w.log.Warn("Pull failed, continuing from local state",
			slog.String("branch", base),
			slog.Any("error", err))
	}
	return nil
}

// BranchExists reports whether a local branch exists.
func (w *Workspace) BranchExists(ctx context.Context, branch string) bool {
	_, err := w.git(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// PrepareBranch discards local changes, checks out and pulls base, deletes
// branch if it already exists and creates it fresh from base.
func (w *Workspace) PrepareBranch(ctx context.Context, base, branch string) error {
	if err := w.Discard(ctx); err != nil {
		return err
	}
	if err := w.CheckoutBase(ctx, base); err != nil {
		return err
	}
	if w.BranchExists(ctx, branch) {
		if _, err := w.git(ctx, "branch", "-D", branch); err != nil {
			return fmt.Errorf("delete stale branch %s: %w", branch, err)
		}
		w.log.Debug("Deleted stale branch", slog.String("branch", branch))
	}
	if _, err := w.git(ctx, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// Discard drops uncommitted and untracked changes.
func (w *Workspace) Discard(ctx context.Context) error {
	if _, err := w.git(ctx, "reset", "--hard"); err != nil {
		return err
	}
	_, err := w.git(ctx, "clean", "-fd")
	return err
}

// ChangedFiles lists modified, added, deleted and untracked paths.
func (w *Workspace) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := w.gitRaw(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files, nil
}

// CommitAll stages everything and commits, returning the new HEAD SHA.
func (w *Workspace) CommitAll(ctx context.Context, message string) (string, error) {
	if _, err := w.git(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	if _, err := w.git(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return w.HeadSHA(ctx)
}

// HeadSHA returns the current commit SHA.
func (w *Workspace) HeadSHA(ctx context.Context) (string, error) {
	return w.git(ctx, "rev-parse", "HEAD")
}

// Push pushes branch to the remote, setting upstream.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	if _, err := w.git(ctx, "push", "-u", "--force-with-lease", w.remote, branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// Diff returns the diff of HEAD against base.
func (w *Workspace) Diff(ctx context.Context, base string) (string, error) {
	return w.git(ctx, "diff", base+"...HEAD")
}

// DiffStats summarizes a diff.
type DiffStats struct {
	Files      int
	Insertions int
	Deletions  int
}

// Lines is insertions plus deletions.
func (s DiffStats) Lines() int { return s.Insertions + s.Deletions }

// Stats counts changes of HEAD against base.
func (w *Workspace) Stats(ctx context.Context, base string) (DiffStats, error) {
	out, err := w.git(ctx, "diff", "--numstat", base+"...HEAD")
	if err != nil {
		return DiffStats{}, err
	}
	return parseNumstat(out), nil
}

func parseNumstat(out string) DiffStats {
	var s DiffStats
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		s.Files++
		// Binary files report "-".
		if n, err := strconv.Atoi(fields[0]); err == nil {
			s.Insertions += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			s.Deletions += n
		}
	}
	return s
}

var unsafeBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BranchName derives the working branch for a ticket key, e.g.
// "acme/api#12" becomes "hourglass/acme-api-12".
func BranchName(key string) string {
	name := strings.Trim(unsafeBranchChars.ReplaceAllString(key, "-"), "-.")
	if name == "" {
		name = "ticket"
	}
	return BranchPrefix + strings.ToLower(name)
}
