package lighthouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult is the outcome of one finished command.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Signaled bool
}

// Engine runs a command to completion. A non-zero exit is reported through
// ExecResult, not as an error.
type Engine interface {
	Exec(ctx context.Context, cmd []string, env map[string]string) (*ExecResult, error)
}

// ExecEngine runs commands as local processes.
type ExecEngine struct{}

func (ExecEngine) Exec(ctx context.Context, args []string, env map[string]string) (*ExecResult, error) {
	if len(args) == 0 {
		return nil, errors.New("lighthouse: empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("lighthouse: start %s: %w", args[0], err)
	}
	res.ExitCode = exitErr.ExitCode()
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		res.Signaled = true
	}
	return res, nil
}

// DockerEngine runs commands inside an already running container.
type DockerEngine struct {
	client    *client.Client
	container string
}

func NewDockerEngine(containerName string) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("lighthouse: docker client: %w", err)
	}
	return &DockerEngine{client: cli, container: containerName}, nil
}

func (d *DockerEngine) Close() error { return d.client.Close() }

func (d *DockerEngine) Exec(ctx context.Context, cmd []string, env map[string]string) (*ExecResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
	for k, v := range env {
		execConfig.Env = append(execConfig.Env, k+"="+v)
	}

	execResp, err := d.client.ContainerExecCreate(ctx, d.container, execConfig)
	if err != nil {
		return nil, fmt.Errorf("lighthouse: create exec in %s: %w", d.container, err)
	}

	attachResp, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("lighthouse: attach exec in %s: %w", d.container, err)
	}
	defer attachResp.Close()

	// The hijacked stream ignores ctx, so copy in the background and close
	// the connection once ctx is done.
	var stdout, stderr bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		outputDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		attachResp.Close()
		<-outputDone
		return nil, ctx.Err()
	case err := <-outputDone:
		if err != nil {
			return nil, fmt.Errorf("lighthouse: read exec output: %w", err)
		}
	}

	insp, err := d.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("lighthouse: inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: insp.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		// shells report death by signal N as 128+N
		Signaled: insp.ExitCode > 128,
	}, nil
}
