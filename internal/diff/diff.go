// Package diff parses, validates, and applies the unified-diff subset the
// coder agent is allowed to produce.
//
// Accepted input: one or more file blocks ("--- a/<path>" then
// "+++ b/<path>"), each with one or more hunks ("@@ -old,olen +new,nlen @@")
// whose body lines are prefixed by ' ', '+', or '-', terminated by a single
// "COMMIT: <message>" trailer.
package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxLines caps the total line count of an accepted diff.
const MaxLines = 50

// criticalFiles may never be deleted by a patch. A file block that targets
// one of these with removed lines but no added lines, or that redirects it
// to /dev/null, is rejected before any file I/O.
var criticalFiles = map[string]struct{}{
	"package.json":      {},
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"requirements.txt":  {},
	"setup.py":          {},
	"pyproject.toml":    {},
	".gitignore":        {},
	"README.md":         {},
	"Dockerfile":        {},
}

// Critical reports whether path's base name belongs to the protected set.
func Critical(path string) bool {
	_, ok := criticalFiles[filepath.Base(path)]
	return ok
}

// Stats summarizes an applied patch.
type Stats struct {
	FilesModified int `json:"files_modified"`
	Additions     int `json:"additions"`
	Deletions     int `json:"deletions"`
	NetChange     int `json:"net_change"`
}

// Hunk is one contiguous change within a file block.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	// Lines keep their leading ' ', '+', or '-' marker.
	Lines []string
}

// FileBlock is the set of hunks for one target file.
type FileBlock struct {
	OldPath string // from "--- a/<path>", or "/dev/null"
	NewPath string // from "+++ b/<path>", or "/dev/null"
	Hunks   []*Hunk
}

// Patch is a fully parsed diff.
type Patch struct {
	Files  []*FileBlock
	Commit string
}

// Parse validates the diff text and returns its structure. The returned
// error describes the first violation found.
func Parse(text string) (*Patch, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > MaxLines {
		return nil, fmt.Errorf("diff too large: %d lines (max %d)", len(lines), MaxLines)
	}

	patch := &Patch{}
	var current *FileBlock
	var hunk *Hunk
	sawOld, sawNew, sawHunk := false, false, false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			sawOld = true
			current = &FileBlock{OldPath: parsePath(line[4:])}
			hunk = nil
			patch.Files = append(patch.Files, current)
		case strings.HasPrefix(line, "+++ "):
			if current == nil {
				return nil, fmt.Errorf("line %d: +++ without preceding ---", i+1)
			}
			sawNew = true
			current.NewPath = parsePath(line[4:])
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("line %d: hunk outside file block", i+1)
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			sawHunk = true
			hunk = h
			current.Hunks = append(current.Hunks, h)
		case strings.HasPrefix(line, "COMMIT:"):
			patch.Commit = strings.TrimSpace(strings.TrimPrefix(line, "COMMIT:"))
		case hunk != nil && (line == "" || line[0] == ' ' || line[0] == '+' || line[0] == '-'):
			// An empty line inside a hunk is a context line whose content
			// is empty (some generators omit the leading space).
			if line == "" {
				line = " "
			}
			hunk.Lines = append(hunk.Lines, line)
		default:
			// Ignore stray text outside hunks (e.g. "diff --git" headers).
		}
	}

	switch {
	case !sawOld:
		return nil, fmt.Errorf("missing '--- a/' file header")
	case !sawNew:
		return nil, fmt.Errorf("missing '+++ b/' file header")
	case !sawHunk:
		return nil, fmt.Errorf("missing '@@' hunk header")
	case patch.Commit == "":
		return nil, fmt.Errorf("missing 'COMMIT:' trailer")
	}

	if err := checkCriticalDeletions(patch); err != nil {
		return nil, err
	}
	return patch, nil
}

// checkCriticalDeletions rejects blocks that would delete a protected file:
// either the new path is /dev/null or the block contains deletions only.
func checkCriticalDeletions(p *Patch) error {
	for _, fb := range p.Files {
		path := fb.TargetPath()
		if !Critical(path) && !Critical(fb.OldPath) {
			continue
		}
		if fb.NewPath == "/dev/null" {
			return fmt.Errorf("critical file %s may not be deleted", fb.OldPath)
		}
		adds, dels := 0, 0
		for _, h := range fb.Hunks {
			for _, l := range h.Lines {
				switch l[0] {
				case '+':
					adds++
				case '-':
					dels++
				}
			}
		}
		if adds == 0 && dels > 0 {
			return fmt.Errorf("critical file %s: deletion-only patch blocked", path)
		}
	}
	return nil
}

// TargetPath returns the path the block writes to.
func (fb *FileBlock) TargetPath() string {
	if fb.NewPath != "" && fb.NewPath != "/dev/null" {
		return fb.NewPath
	}
	return fb.OldPath
}

// Apply parses the diff and applies it under root. Hunks are applied by
// exact context match at their declared position; any mismatch aborts with
// an error and no further writes. The caller is responsible for
// snapshotting before and rolling back after a failed apply.
func Apply(root, text string) (*Stats, error) {
	patch, err := Parse(text)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, fb := range patch.Files {
		target := filepath.Join(root, filepath.FromSlash(fb.TargetPath()))
		if err := applyFile(target, fb, stats); err != nil {
			return nil, fmt.Errorf("%s: %w", fb.TargetPath(), err)
		}
		stats.FilesModified++
	}
	stats.NetChange = stats.Additions - stats.Deletions
	return stats, nil
}

func applyFile(target string, fb *FileBlock, stats *Stats) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	var content string
	hadTrailingNewline := true
	if data, err := os.ReadFile(target); err == nil {
		content = string(data)
		hadTrailingNewline = content == "" || strings.HasSuffix(content, "\n")
	}

	lines := []string{}
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}

	// Apply hunks in order. Offset tracks how earlier hunks in this file
	// shifted the line numbering.
	offset := 0
	for _, h := range fb.Hunks {
		var err error
		lines, offset, err = applyHunk(lines, h, offset, stats)
		if err != nil {
			return err
		}
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline && out != "" {
		out += "\n"
	}
	return os.WriteFile(target, []byte(out), 0o644)
}

// applyHunk splices one hunk into lines. pos counting is 1-based in the
// header; a start of 0 means "prepend" (new file).
func applyHunk(lines []string, h *Hunk, offset int, stats *Stats) ([]string, int, error) {
	start := h.OldStart - 1 + offset
	if h.OldStart == 0 {
		start = 0
	}
	if start < 0 || start > len(lines) {
		return nil, 0, fmt.Errorf("hunk start %d out of range (file has %d lines)", h.OldStart, len(lines))
	}

	var replacement []string
	pos := start
	for _, l := range h.Lines {
		marker, body := l[0], l[1:]
		switch marker {
		case ' ':
			if pos >= len(lines) || lines[pos] != body {
				return nil, 0, contextMismatch(lines, pos, body)
			}
			replacement = append(replacement, body)
			pos++
		case '-':
			if pos >= len(lines) || lines[pos] != body {
				return nil, 0, contextMismatch(lines, pos, body)
			}
			stats.Deletions++
			pos++
		case '+':
			replacement = append(replacement, body)
			stats.Additions++
		}
	}

	consumed := pos - start
	out := make([]string, 0, len(lines)-consumed+len(replacement))
	out = append(out, lines[:start]...)
	out = append(out, replacement...)
	out = append(out, lines[pos:]...)

	return out, offset + len(replacement) - consumed, nil
}

func contextMismatch(lines []string, pos int, want string) error {
	got := "<EOF>"
	if pos < len(lines) {
		got = lines[pos]
	}
	return fmt.Errorf("context mismatch at line %d: want %q, have %q", pos+1, want, got)
}

func parsePath(s string) string {
	s = strings.TrimSpace(s)
	if s == "/dev/null" {
		return s
	}
	s = strings.TrimPrefix(s, "a/")
	s = strings.TrimPrefix(s, "b/")
	return s
}

func parseHunkHeader(line string) (*Hunk, error) {
	h := &Hunk{OldLines: 1, NewLines: 1}
	var rest string
	n, err := fmt.Sscanf(line, "@@ -%d,%d +%d,%d @@%s", &h.OldStart, &h.OldLines, &h.NewStart, &h.NewLines, &rest)
	if err != nil && n < 4 {
		// Retry the short forms (-N +M without counts).
		n, err = fmt.Sscanf(line, "@@ -%d +%d @@%s", &h.OldStart, &h.NewStart, &rest)
		if err != nil && n < 2 {
			return nil, fmt.Errorf("malformed hunk header %q", line)
		}
	}
	return h, nil
}
