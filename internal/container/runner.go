package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Commander builds an executable command. Tests substitute it to
// inspect the constructed invocations without running anything.
type Commander func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner invokes MariaDB client tooling either inside a Docker
// container or directly on the host. The container holds the server's
// tool versions, so container execution is preferred when a container
// name is configured.
type Runner struct {
	containerName string
	password      string
	commander     Commander
}

// NewRunner creates a runner. An empty containerName selects host
// execution.
func NewRunner(containerName, password string) *Runner {
	return &Runner{
		containerName: containerName,
		password:      password,
		commander:     exec.CommandContext,
	}
}

// NewRunnerWithCommander creates a runner with a custom commander
func NewRunnerWithCommander(containerName, password string, commander Commander) *Runner {
	return &Runner{
		containerName: containerName,
		password:      password,
		commander:     commander,
	}
}

// InContainer reports whether commands run through docker exec
func (r *Runner) InContainer() bool {
	return r.containerName != ""
}

// Command builds the command for a tool invocation. In container mode
// the invocation is wrapped in docker exec with the password passed as
// an environment variable rather than an argument, keeping it out of
// the host process list.
func (r *Runner) Command(ctx context.Context, tool string, args ...string) *exec.Cmd {
	if r.containerName != "" {
		dockerArgs := []string{"exec", "-i"}
		if r.password != "" {
			dockerArgs = append(dockerArgs, "-e", "MYSQL_PWD")
		}
		dockerArgs = append(dockerArgs, r.containerName, tool)
		dockerArgs = append(dockerArgs, args...)

		cmd := r.commander(ctx, "docker", dockerArgs...)
		cmd.Env = r.environ()
		return cmd
	}

	cmd := r.commander(ctx, tool, args...)
	cmd.Env = r.environ()
	return cmd
}

func (r *Runner) environ() []string {
	env := os.Environ()
	if r.password != "" {
		env = append(env, "MYSQL_PWD="+r.password)
	}
	return env
}

// Run executes a tool with stdout directed to out and stdin read from
// in. Either may be nil. Stderr is collected and included in the error
// on failure.
func (r *Runner) Run(ctx context.Context, tool string, args []string, out io.Writer, in io.Reader) error {
	cmd := r.Command(ctx, tool, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if out != nil {
		cmd.Stdout = out
	}
	if in != nil {
		cmd.Stdin = in
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s failed: %w: %s", tool, err, msg)
		}
		return fmt.Errorf("%s failed: %w", tool, err)
	}

	return nil
}

// ResolveTool picks the first available tool name from candidates.
// MariaDB installations ship mariadb-dump while older MySQL hosts only
// have mysqldump, so callers pass both spellings in preference order.
// In container mode the first candidate is trusted since host PATH
// lookup says nothing about the container image.
func (r *Runner) ResolveTool(candidates ...string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no tool candidates given")
	}

	if r.containerName != "" {
		return candidates[0], nil
	}

	for _, candidate := range candidates {
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("none of %s found in PATH", strings.Join(candidates, ", "))
}
