package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// outputCap is the number of trailing bytes of stdout/stderr kept for
// reporting.
const outputCap = 2048

// allowedCommands is the base-command allowlist for sandbox execution.
var allowedCommands = map[string]struct{}{
	"npm":     {},
	"node":    {},
	"python":  {},
	"python3": {},
	"pytest":  {},
}

// allowedGitVerbs narrowly widens the allowlist for git subcommands.
var allowedGitVerbs = map[string]struct{}{
	"status": {},
	"log":    {},
	"show":   {},
	"add":    {},
	"commit": {},
	"init":   {},
	"config": {},
}

// commandAllowed checks argv against the allowlist.
func commandAllowed(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	if argv[0] == "git" {
		if len(argv) < 2 {
			return false
		}
		_, ok := allowedGitVerbs[argv[1]]
		return ok
	}
	_, ok := allowedCommands[argv[0]]
	return ok
}

// RunCommand executes argv in the workspace under the sandbox's timeout.
// Disallowed commands are refused with exit_code=1 and a clear stderr. On
// timeout the whole process group is killed and Killed is set. Output is
// truncated to the last 2 KiB per stream.
func (s *Sandbox) RunCommand(ctx context.Context, argv []string) model.TestResult {
	start := time.Now()

	if !commandAllowed(argv) {
		return model.TestResult{
			Failed:   1,
			Stderr:   fmt.Sprintf("command not allowed: %s", strings.Join(argv, " ")),
			ExitCode: 1,
			Duration: time.Since(start),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.repo
	// Own process group so a timeout kill reaps grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return model.TestResult{
			Failed:   1,
			Stderr:   tail(err.Error()),
			ExitCode: 1,
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	killed := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killed = true
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
	}

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}
	if killed {
		s.logger.Warn("command killed on timeout",
			zap.String("task_id", s.taskID),
			zap.Strings("argv", argv),
			zap.Duration("timeout", s.opts.CommandTimeout))
	}

	result := model.TestResult{
		Stdout:   tail(stdout.String()),
		Stderr:   tail(stderr.String()),
		ExitCode: exitCode,
		Duration: time.Since(start),
		Killed:   killed,
	}
	if exitCode == 0 && !killed {
		result.Passed = 1
	} else {
		result.Failed = 1
	}
	return result
}

// tail keeps the last outputCap bytes of s.
func tail(s string) string {
	if len(s) <= outputCap {
		return s
	}
	return s[len(s)-outputCap:]
}
