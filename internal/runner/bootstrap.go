package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultBootstrapBranch is the installer branch the bootstrap script is
	// fetched from when none is configured.
	DefaultBootstrapBranch = "main"

	bootstrapURLFormat = "https://raw.githubusercontent.com/edulution-io/edulution-installer/%s/edulution-lmninstaller/bootstrap.sh"

	defaultSSHPort        = 22
	defaultHealthAttempts = 30
	defaultPollInterval   = 2 * time.Second
)

// BootstrapRunner connects to a remote host over SSH, runs the bootstrap
// script there and waits until the installer API on the target answers.
// Client input forwarded through WriteInput reaches the remote session's
// stdin.
type BootstrapRunner struct {
	Host     string
	Port     int
	User     string
	Password string
	Branch   string

	// HealthURL is polled after the script succeeded. Defaults to the
	// installer API health endpoint on the target host.
	HealthURL      string
	HealthAttempts int
	PollInterval   time.Duration
	HTTPClient     *http.Client

	mu    sync.Mutex
	stdin io.Writer
}

// NewBootstrapRunner returns a runner with the default branch and health
// polling parameters.
func NewBootstrapRunner(host string, port int, user, password string) *BootstrapRunner {
	return &BootstrapRunner{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Branch:   DefaultBootstrapBranch,
	}
}

// Run implements Runner.
func (r *BootstrapRunner) Run(ctx context.Context, sink Sink) error {
	port := r.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(r.Host, strconv.Itoa(port))

	sink.Milestone(fmt.Sprintf("Connecting to %s...", addr))

	cfg := &ssh.ClientConfig{
		User: r.User,
		Auth: []ssh.AuthMethod{ssh.Password(r.Password)},
		// The installer targets freshly imaged hosts whose keys are unknown.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("ssh connect to %s: %w", addr, err)
	}
	defer func() { _ = client.Close() }()

	sink.Milestone("Connection established, starting bootstrap")

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer func() { _ = session.Close() }()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 80, modes); err != nil {
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	r.setStdin(stdin)
	defer r.setStdin(nil)

	sudo := r.User != "root"
	if sudo {
		sink.Milestone("Not connected as root, using sudo")
	}
	if err := session.Start(r.command(sudo)); err != nil {
		return fmt.Errorf("start bootstrap script: %w", err)
	}

	if sudo {
		// sudo -S reads the password from stdin once the prompt appears.
		go func() {
			time.Sleep(time.Second)
			_, _ = fmt.Fprintln(stdin, r.Password)
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			sink.Line(StreamStderr, line)
		})
	}()
	scanLines(stdout, func(line string) {
		if isSudoPrompt(line) {
			return
		}
		sink.Line(StreamStdout, line)
	})
	wg.Wait()

	if err := session.Wait(); err != nil {
		code := 1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitStatus()
		}
		sink.Line(StreamStderr, fmt.Sprintf("Bootstrap failed with exit code %d", code))
		sink.Finished(false, code)
		return nil
	}

	sink.Milestone("Waiting for installer API...")
	if r.waitForAPI(ctx, sink) {
		sink.Milestone("Installer API is ready")
		sink.Finished(true, 0)
		return nil
	}

	sink.Line(StreamStderr, "Installer API not reachable after bootstrap")
	sink.Finished(false, 1)
	return nil
}

// WriteInput forwards client input to the remote session.
func (r *BootstrapRunner) WriteInput(p []byte) error {
	r.mu.Lock()
	w := r.stdin
	r.mu.Unlock()

	if w == nil {
		return errors.New("no session input available")
	}
	_, err := w.Write(p)
	return err
}

func (r *BootstrapRunner) setStdin(w io.Writer) {
	r.mu.Lock()
	r.stdin = w
	r.mu.Unlock()
}

// command builds the remote shell command. The script is downloaded to a
// temp file first; piping it straight into bash loses the branch environment
// variable in some shell/PTY configurations.
func (r *BootstrapRunner) command(sudo bool) string {
	branch := r.Branch
	if branch == "" {
		branch = DefaultBootstrapBranch
	}
	url := fmt.Sprintf(bootstrapURLFormat, branch)

	if sudo {
		return fmt.Sprintf(
			"sudo -S bash -c 'export GITHUB_BRANCH=%s && tmpfile=$(mktemp) && curl -fsSL %s -o $tmpfile && bash $tmpfile; rm -f $tmpfile'",
			branch, url,
		)
	}
	return fmt.Sprintf(
		"tmpfile=$(mktemp) && curl -fsSL %s -o $tmpfile && GITHUB_BRANCH=%s bash $tmpfile; rm -f $tmpfile",
		url, branch,
	)
}

func (r *BootstrapRunner) waitForAPI(ctx context.Context, sink Sink) bool {
	attempts := r.HealthAttempts
	if attempts == 0 {
		attempts = defaultHealthAttempts
	}
	interval := r.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	url := r.healthURL()

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := client.Get(url)
		if err == nil {
			ready := resp.StatusCode == http.StatusOK
			_ = resp.Body.Close()
			if ready {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
		sink.Milestone(fmt.Sprintf("Waiting for API... (attempt %d/%d)", attempt, attempts))
	}
	return false
}

func (r *BootstrapRunner) healthURL() string {
	if r.HealthURL != "" {
		return r.HealthURL
	}
	return fmt.Sprintf("http://%s:8000/api/health", r.Host)
}

func isSudoPrompt(line string) bool {
	return strings.Contains(line, "[sudo]") && strings.Contains(line, "password")
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(strings.TrimRight(scanner.Text(), " \t\r"))
	}
}
