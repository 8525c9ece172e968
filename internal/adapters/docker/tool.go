package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"container-invoker/internal/core/functions"

	"github.com/docker/docker/api/types/container"
)

// ToolWorkdir is where a tool container sees its bind-mounted host directory.
const ToolWorkdir = "/workspace"

// EnsureToolImage builds tag on top of base unless it already exists. The
// image keeps an idle shell as entrypoint so commands can be exec'd into it.
func (c *Client) EnsureToolImage(ctx context.Context, tag, base string) error {
	exists, err := c.imageExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	dir, err := os.MkdirTemp("", "tool-image-")
	if err != nil {
		return fmt.Errorf("create tool build context: %w", err)
	}
	defer os.RemoveAll(dir)

	manifest := fmt.Sprintf("FROM %s\nWORKDIR %s\nENTRYPOINT [\"/bin/sh\"]\n", base, ToolWorkdir)
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(manifest), 0o644); err != nil {
		return fmt.Errorf("write tool Dockerfile: %w", err)
	}
	if err := c.buildImage(ctx, dir, tag); err != nil {
		return err
	}
	c.lg.Info().Str("image", tag).Str("base", base).Msg("tool image built")
	return nil
}

// StartTool starts a detached tool container with hostDir mounted at
// ToolWorkdir. A running container of the same name and image is reused.
func (c *Client) StartTool(ctx context.Context, name, img, hostDir string) error {
	running, err := c.runningWith(ctx, name, img)
	if err != nil {
		return err
	}
	if running {
		c.lg.Info().Str("container", name).Msg("tool container already running")
		return nil
	}
	if _, err := c.removeContainer(ctx, name); err != nil {
		return err
	}

	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", hostDir, err)
	}
	resp, err := c.api.ContainerCreate(ctx,
		&container.Config{
			Image:      img,
			WorkingDir: ToolWorkdir,
			OpenStdin:  true, // keeps the idle shell alive
		},
		&container.HostConfig{
			Binds: []string{fmt.Sprintf("%s:%s", abs, ToolWorkdir)},
		},
		nil, nil, name,
	)
	if err != nil {
		return fmt.Errorf("docker create: %w", err)
	}
	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker start: %w", err)
	}
	c.lg.Info().Str("container_id", resp.ID).Str("container", name).Str("mount", abs).Msg("tool container started")
	return nil
}

// RemoveTool removes the tool container and its image.
func (c *Client) RemoveTool(ctx context.Context, name, img string) (functions.Removal, error) {
	return c.RemoveAll(ctx, name, img)
}
