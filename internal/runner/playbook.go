package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrPlaybookNotFound is returned when the requested playbook does not exist
// in the playbook directory.
var ErrPlaybookNotFound = errors.New("playbook not found")

// PlaybookRunner executes an ansible playbook against localhost, streaming
// its output line by line and mapping recognizable play/task markers to
// lifecycle milestones.
type PlaybookRunner struct {
	Playbook       string
	ExtraVars      map[string]string
	PlaybookDir    string
	PrivateDataDir string

	// bin is overridable in tests.
	bin string
}

// NewPlaybookRunner returns a runner for the named playbook. playbookDir
// holds the source playbooks; privateDataDir is the working directory the
// project/inventory layout is created under.
func NewPlaybookRunner(playbook, playbookDir, privateDataDir string, extraVars map[string]string) *PlaybookRunner {
	return &PlaybookRunner{
		Playbook:       playbook,
		ExtraVars:      extraVars,
		PlaybookDir:    playbookDir,
		PrivateDataDir: privateDataDir,
		bin:            "ansible-playbook",
	}
}

// Run implements Runner.
func (r *PlaybookRunner) Run(ctx context.Context, sink Sink) error {
	playbookPath, inventoryPath, err := r.prepare()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, r.bin, r.args(playbookPath, inventoryPath)...) // #nosec G204 -- playbook name is validated in prepare
	cmd.Dir = r.PrivateDataDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.bin, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			sink.Line(StreamStderr, line)
		})
	}()

	parser := &playParser{}
	scanLines(stdout, func(line string) {
		sink.Line(StreamStdout, line)
		if m := parser.milestone(line); m != "" {
			sink.Milestone(m)
		}
	})
	wg.Wait()

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("wait for %s: %w", r.bin, err)
		}
		code = exitErr.ExitCode()
	}

	sink.Finished(code == 0, code)
	return nil
}

// prepare creates the private data directory layout (project + inventory),
// writes the localhost inventory and copies the playbook into the project.
func (r *PlaybookRunner) prepare() (playbookPath, inventoryPath string, err error) {
	if filepath.Base(r.Playbook) != r.Playbook || r.Playbook == "" || r.Playbook == "." {
		return "", "", fmt.Errorf("invalid playbook name %q", r.Playbook)
	}

	source := filepath.Join(r.PlaybookDir, r.Playbook)
	content, err := os.ReadFile(source) // #nosec G304 -- path is playbookDir + validated base name
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("%w: %s", ErrPlaybookNotFound, source)
		}
		return "", "", fmt.Errorf("read playbook: %w", err)
	}

	projectDir := filepath.Join(r.PrivateDataDir, "project")
	inventoryDir := filepath.Join(r.PrivateDataDir, "inventory")
	for _, dir := range []string{projectDir, inventoryDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	inventoryPath = filepath.Join(inventoryDir, "hosts")
	if err := os.WriteFile(inventoryPath, []byte("localhost ansible_connection=local\n"), 0600); err != nil {
		return "", "", fmt.Errorf("write inventory: %w", err)
	}

	playbookPath = filepath.Join(projectDir, r.Playbook)
	if err := os.WriteFile(playbookPath, content, 0600); err != nil {
		return "", "", fmt.Errorf("copy playbook: %w", err)
	}

	return playbookPath, inventoryPath, nil
}

func (r *PlaybookRunner) args(playbookPath, inventoryPath string) []string {
	args := []string{"-i", inventoryPath, playbookPath}

	keys := make([]string, 0, len(r.ExtraVars))
	for k := range r.ExtraVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, r.ExtraVars[k]))
	}
	return args
}

// playParser turns raw ansible-playbook output lines into the milestone
// notifications the original callback API produced.
type playParser struct {
	task string
}

func (p *playParser) milestone(line string) string {
	switch {
	case strings.HasPrefix(line, "PLAY RECAP"):
		return "Playbook finished"
	case strings.HasPrefix(line, "PLAY ["):
		return "Play started: " + bracketed(line)
	case strings.HasPrefix(line, "TASK ["):
		p.task = bracketed(line)
		return ""
	case strings.HasPrefix(line, "fatal:"), strings.HasPrefix(line, "failed:"):
		return "Task failed: " + p.taskName()
	case strings.HasPrefix(line, "ok: ["), strings.HasPrefix(line, "changed: ["):
		return "Task OK: " + p.taskName()
	}
	return ""
}

func (p *playParser) taskName() string {
	if p.task == "" {
		return "unknown"
	}
	return p.task
}

func bracketed(line string) string {
	open := strings.Index(line, "[")
	end := strings.Index(line, "]")
	if open < 0 || end <= open {
		return "unknown"
	}
	return line[open+1 : end]
}
