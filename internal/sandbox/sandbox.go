// Package sandbox materializes and manages the hermetic per-task workspace:
// template seeding, snapshots with rollback, safe diff application, bounded
// command execution, and the deterministic validators.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/diff"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Options configures a new Sandbox.
type Options struct {
	// Root is the process-wide sandbox root. Defaults to $TMPDIR/gizmo.
	Root string
	// TemplatesDir holds on-disk template trees; when the requested template
	// is absent the built-in minimal tree is materialized instead.
	TemplatesDir string
	// CommandTimeout bounds each command's wall clock (default 30s).
	CommandTimeout time.Duration
}

// Sandbox is the filesystem workspace owned by exactly one task run.
type Sandbox struct {
	taskID   string
	template model.Template
	opts     Options
	logger   *zap.Logger

	root     string // <opts.Root>/<taskID>
	repo     string // <root>/repo
	backup   string // <root>/backup
	logs     string // <root>/logs
	artifact string // <root>/artifacts

	lastSnapshotMS int64
}

// New creates a Sandbox for a task. Call Prepare before use and Cleanup on
// the run's terminal transition.
func New(taskID string, template model.Template, opts Options, logger *zap.Logger) *Sandbox {
	if opts.Root == "" {
		opts.Root = filepath.Join(os.TempDir(), "gizmo")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	root := filepath.Join(opts.Root, taskID)
	return &Sandbox{
		taskID:   taskID,
		template: template,
		opts:     opts,
		logger:   logger,
		root:     root,
		repo:     filepath.Join(root, "repo"),
		backup:   filepath.Join(root, "backup"),
		logs:     filepath.Join(root, "logs"),
		artifact: filepath.Join(root, "artifacts"),
	}
}

// RepoPath returns the live workspace directory.
func (s *Sandbox) RepoPath() string { return s.repo }

// Prepare materializes the workspace: template tree into repo/, the
// auxiliary directories, and an "initial" snapshot.
func (s *Sandbox) Prepare() error {
	for _, dir := range []string{s.repo, s.backup, s.logs, s.artifact} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	src := filepath.Join(s.opts.TemplatesDir, string(s.template))
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		if err := copyTree(src, s.repo); err != nil {
			return fmt.Errorf("copying template %s: %w", s.template, err)
		}
		s.logger.Debug("template copied from disk",
			zap.String("task_id", s.taskID), zap.String("template", string(s.template)))
	} else {
		if err := writeBuiltinTemplate(s.repo, s.template); err != nil {
			return fmt.Errorf("materializing built-in template %s: %w", s.template, err)
		}
		s.logger.Debug("built-in template materialized",
			zap.String("task_id", s.taskID), zap.String("template", string(s.template)))
	}

	if _, err := s.Snapshot("initial"); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	return nil
}

// Snapshot recursively copies repo/ to backup/<label>_<ms>/ and returns the
// snapshot directory name. The millisecond suffix is forced monotonic so
// labels are unique within a run.
func (s *Sandbox) Snapshot(label string) (string, error) {
	ms := time.Now().UnixMilli()
	if ms <= s.lastSnapshotMS {
		ms = s.lastSnapshotMS + 1
	}
	s.lastSnapshotMS = ms

	name := fmt.Sprintf("%s_%d", label, ms)
	dst := filepath.Join(s.backup, name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}
	if err := copyTree(s.repo, dst); err != nil {
		return "", fmt.Errorf("snapshotting: %w", err)
	}
	return name, nil
}

// Rollback replaces repo/ with the contents of the given snapshot.
func (s *Sandbox) Rollback(snapshot string) error {
	src := filepath.Join(s.backup, snapshot)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshot, err)
	}
	if err := os.RemoveAll(s.repo); err != nil {
		return fmt.Errorf("clearing repo: %w", err)
	}
	if err := os.MkdirAll(s.repo, 0o755); err != nil {
		return fmt.Errorf("recreating repo: %w", err)
	}
	if err := copyTree(src, s.repo); err != nil {
		return fmt.Errorf("restoring snapshot %s: %w", snapshot, err)
	}
	return nil
}

// ApplyPatch snapshots, applies the unified diff, and on any failure
// restores the pre-patch state before returning the error. On success a
// second snapshot records the patched tree.
func (s *Sandbox) ApplyPatch(diffText string) (*diff.Stats, error) {
	before, err := s.Snapshot("before_patch")
	if err != nil {
		return nil, err
	}

	stats, err := diff.Apply(s.repo, diffText)
	if err != nil {
		if rbErr := s.Rollback(before); rbErr != nil {
			s.logger.Error("rollback after failed patch",
				zap.String("task_id", s.taskID), zap.Error(rbErr))
		}
		return nil, fmt.Errorf("applying patch: %w", err)
	}

	if _, err := s.Snapshot("after_patch"); err != nil {
		return nil, err
	}
	s.logger.Info("patch applied",
		zap.String("task_id", s.taskID),
		zap.Int("files", stats.FilesModified),
		zap.Int("additions", stats.Additions),
		zap.Int("deletions", stats.Deletions))
	return stats, nil
}

// RunTests executes the template's deterministic validator.
func (s *Sandbox) RunTests() model.TestResult {
	return validate(s.repo, s.template)
}

// Describe briefs the coder on the workspace.
func (s *Sandbox) Describe() model.WorkspaceInfo {
	var files []string
	filepath.Walk(s.repo, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(s.repo, path); relErr == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return model.WorkspaceInfo{
		Root:     s.repo,
		Files:    files,
		Template: s.template,
		TaskID:   s.taskID,
	}
}

// Cleanup removes the task's entire sandbox tree.
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.root)
}

// copyTree recursively copies the contents of src into dst. dst must exist.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
