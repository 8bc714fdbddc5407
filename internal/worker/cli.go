package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// credentialEnvVar carries the API credential into the child process. The
// variable is set only in the child's launch specification; the parent
// process environment is never mutated.
const credentialEnvVar = "COWORK_API_KEY"

// defaultCLITool is the external executable invoked in cli mode.
const defaultCLITool = "claude"

// LaunchSpec is an explicit per-invocation description of the child
// process: full argv plus a scoped environment map.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// environ flattens the scoped environment on top of a copy of the parent
// environment.
func (ls LaunchSpec) environ() []string {
	env := os.Environ()
	for k, v := range ls.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// cliBackend is the external-tool execution mode. Each turn spawns one
// child process; the line-buffered stdout is the token stream.
type cliBackend struct {
	tool   string
	apiKey string
	model  string
}

func newCLIBackend(cfg *types.Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = defaultModel
	}

	return &cliBackend{
		tool:   defaultCLITool,
		apiKey: cfg.APIKey,
		model:  modelID,
	}, nil
}

func (b *cliBackend) Mode() types.IntegrationMode {
	return types.IntegrationCLI
}

func (b *cliBackend) StartTurn(ctx context.Context, req TurnRequest) (Stream, error) {
	input := ""
	if len(req.Messages) > 0 {
		input = req.Messages[len(req.Messages)-1].Content
	}

	model := req.Model
	if model == "" {
		model = b.model
	}

	spec := LaunchSpec{
		Path: b.tool,
		Args: []string{"-p", "--model", model, input},
		Dir:  req.Directory,
		Env:  map[string]string{credentialEnvVar: b.apiKey},
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	return &cliStream{cmd: cmd, scanner: bufio.NewScanner(stdout)}, nil
}

func (b *cliBackend) Close() error {
	return nil
}

// cliStream reads child stdout line by line. Wait is called exactly once,
// after the stream drains or is closed, so the child is always reaped.
type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner

	waitOnce sync.Once
	waitErr  error
}

func (s *cliStream) Recv() (Chunk, error) {
	if s.scanner.Scan() {
		return Chunk{Delta: s.scanner.Text() + "\n"}, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.wait()
		return Chunk{}, err
	}

	s.wait()
	if s.waitErr != nil {
		return Chunk{}, fmt.Errorf("tool process failed: %w", s.waitErr)
	}
	return Chunk{}, io.EOF
}

func (s *cliStream) Close() {
	// CommandContext kills the child on context cancellation; waiting here
	// reaps it on early close as well.
	s.wait()
}

func (s *cliStream) wait() {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
}
