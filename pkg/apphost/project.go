package apphost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProjectResource runs a command of this repository as a child process
type ProjectResource struct {
	name       string
	executable string
	args       []string

	mu       sync.RWMutex
	endpoint *Endpoint
	client   *http.Client
}

// NewProjectResource creates a project running executable with args
func NewProjectResource(name, executable string, args ...string) *ProjectResource {
	return &ProjectResource{
		name:       name,
		executable: executable,
		args:       args,
		client:     &http.Client{Timeout: 2 * time.Second},
	}
}

func (p *ProjectResource) Name() string {
	return p.name
}

func (p *ProjectResource) bindEndpoint(ep Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = &ep
}

// Endpoint returns the HTTP endpoint of the project, nil when none was declared
func (p *ProjectResource) Endpoint() *Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoint
}

// Environment exposes the project URL using the service discovery naming scheme
func (p *ProjectResource) Environment() map[string]string {
	ep := p.Endpoint()
	if ep == nil {
		return map[string]string{}
	}
	return map[string]string{
		fmt.Sprintf("services__%s__http__0", p.name): ep.URL(),
	}
}

// Run starts the process and waits for it. Cancelling ctx interrupts the process.
func (p *ProjectResource) Run(ctx context.Context, rc RunContext) error {
	cmd := exec.CommandContext(ctx, p.executable, p.args...)
	cmd.Env = append(os.Environ(), p.environ(rc)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.executable, err)
	}
	rc.Logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", p.args).Msg("Process started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pipe(stdout, rc.Logger, zerolog.InfoLevel)
	}()
	go func() {
		defer wg.Done()
		pipe(stderr, rc.Logger, zerolog.WarnLevel)
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("process exited: %w", err)
	}
	return nil
}

// CheckHealth probes /healthz when the project serves HTTP
func (p *ProjectResource) CheckHealth(ctx context.Context) error {
	ep := p.Endpoint()
	if ep == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL()+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (p *ProjectResource) environ(rc RunContext) []string {
	env := make(map[string]string, len(rc.Env)+2)
	for k, v := range rc.Env {
		env[k] = v
	}
	if ep := p.Endpoint(); ep != nil {
		env["HTTP_HOST"] = ep.Host
		env["HTTP_PORT"] = strconv.Itoa(ep.Port)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// pipe forwards each line of r to logger
func pipe(r io.Reader, logger zerolog.Logger, level zerolog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.WithLevel(level).Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("Process output no longer forwarded")
	}
	// keep the process from blocking on a full pipe
	io.Copy(io.Discard, r)
}
