package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"container-invoker/internal/core/functions"
	"container-invoker/pkg/poll"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Run starts image as container name and waits for the settle delay. If a
// running container of that name already uses image, it is left alone.
func (c *Client) Run(ctx context.Context, name, img string) error {
	running, err := c.runningWith(ctx, name, img)
	if err != nil {
		return err
	}
	if running {
		c.lg.Info().Str("container", name).Str("image", img).Msg("container already running, start skipped")
		return nil
	}

	// A stopped leftover with the same name would block the create.
	if _, err := c.removeContainer(ctx, name); err != nil {
		return err
	}

	resp, err := c.api.ContainerCreate(ctx, &container.Config{Image: img}, &container.HostConfig{}, nil, nil, name)
	if err != nil {
		return fmt.Errorf("docker create: %w", err)
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker start: %w", err)
	}
	c.lg.Info().
		Str("container_id", resp.ID).
		Str("container", name).
		Str("image", img).
		Msg("function container started")

	return sleep(ctx, c.settle)
}

// Stop stops name. A missing container is not an error.
func (c *Client) Stop(ctx context.Context, name string) error {
	err := c.api.ContainerStop(ctx, name, container.StopOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("docker stop %s: %w", name, err)
	}
	return nil
}

// ReadOutput polls the container log until stdout is not empty. A container
// that exits without writing to stdout fails immediately.
func (c *Client) ReadOutput(ctx context.Context, name string) (string, error) {
	return poll.Until(ctx, c.policy, func(ctx context.Context, attempt int) (string, bool, error) {
		stdout, stderr, err := c.logs(ctx, name)
		if err != nil {
			return "", false, err
		}
		if strings.TrimSpace(stdout) != "" {
			return stdout, true, nil
		}

		st, err := c.state(ctx, name)
		if err != nil {
			return "", false, err
		}
		if !st.Running && st.Status == "exited" {
			// The log is complete once the container has exited.
			stdout, stderr, err = c.logs(ctx, name)
			if err != nil {
				return "", false, err
			}
			if strings.TrimSpace(stdout) != "" {
				return stdout, true, nil
			}
			return "", false, fmt.Errorf("container %s exited with code %d without output: %s",
				name, st.ExitCode, lastLine(stderr))
		}
		c.lg.Debug().Str("container", name).Int("attempt", attempt).Msg("no output yet")
		return "", false, nil
	})
}

// ExecutionTime is the run time of the container as the engine recorded it.
// For a container that is still running it is the time since start.
func (c *Client) ExecutionTime(ctx context.Context, name string) (time.Duration, error) {
	st, err := c.state(ctx, name)
	if err != nil {
		return 0, err
	}
	started, err := time.Parse(time.RFC3339Nano, st.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("parse start time of %s: %w", name, err)
	}
	finished, err := time.Parse(time.RFC3339Nano, st.FinishedAt)
	if st.Running || err != nil || finished.Before(started) {
		return time.Since(started), nil
	}
	return finished.Sub(started), nil
}

// RemoveAll stops and removes container name and, when img is set, the image.
// Removal reports what existed and was removed.
func (c *Client) RemoveAll(ctx context.Context, name, img string) (functions.Removal, error) {
	var removal functions.Removal
	var errs []error

	if err := c.Stop(ctx, name); err != nil {
		errs = append(errs, err)
	}
	removed, err := c.removeContainer(ctx, name)
	if err != nil {
		errs = append(errs, err)
	}
	removal.ContainerRemoved = removed

	if img != "" {
		removed, err := c.removeImage(ctx, img)
		if err != nil {
			errs = append(errs, err)
		}
		removal.ImageRemoved = removed
	}
	return removal, errors.Join(errs...)
}

func (c *Client) runningWith(ctx context.Context, name, img string) (bool, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("docker ps: %w", err)
	}
	for _, s := range list {
		if s.Image == img && s.State == "running" && hasName(s.Names, name) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) logs(ctx context.Context, name string) (string, string, error) {
	rc, err := c.api.ContainerLogs(ctx, name, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("docker logs %s: %w", name, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demultiplex logs of %s: %w", name, err)
	}
	return stdout.String(), stderr.String(), nil
}

func (c *Client) state(ctx context.Context, name string) (*container.State, error) {
	inspect, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("docker inspect %s: %w", name, err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return nil, fmt.Errorf("docker inspect %s: no state reported", name)
	}
	return inspect.State, nil
}

// hasName matches the engine's "/name" form as well as the bare name.
func hasName(names []string, name string) bool {
	for _, n := range names {
		if strings.TrimPrefix(n, "/") == name {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
