package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"container-invoker/internal/config"
	"container-invoker/internal/core/functions"
	"container-invoker/pkg/poll"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// API is the part of the Docker Engine client the adapter uses.
type API interface {
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Close() error
}

// Authorizer hands out short-lived credentials for a managed registry.
type Authorizer interface {
	Authorization(ctx context.Context) (registry.AuthConfig, error)
}

// Client implements functions.ImageBuilder and functions.LocalRunner on the
// Docker Engine API. One Client is shared by every invocation of a process.
type Client struct {
	api        API
	lg         zerolog.Logger
	cfg        config.Config
	naming     functions.Naming
	authHeader string
	ecr        Authorizer
	policy     poll.Policy
	settle     time.Duration

	mu       sync.Mutex
	contexts map[string]string // image -> build context dir
}

var (
	_ functions.ImageBuilder = (*Client)(nil)
	_ functions.LocalRunner  = (*Client)(nil)
)

type Option func(*Client)

// WithECR enables pushing to and pulling from ECR repositories.
func WithECR(a Authorizer) Option {
	return func(c *Client) { c.ecr = a }
}

// WithSettleDelay overrides the pause between container start and the first
// output read.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) { c.settle = d }
}

// Connect opens an engine client configured from the environment. One
// connection can back several Clients.
func Connect() (API, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}

// NewWithAPI wraps an existing engine client.
func NewWithAPI(api API, cfg config.Config, naming functions.Naming, lg zerolog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		api:      api,
		cfg:      cfg,
		naming:   naming,
		lg:       lg.With().Str("adapter", "docker").Logger(),
		policy:   cfg.PollPolicy(),
		settle:   cfg.SettleDelay,
		contexts: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}

	if cfg.DockerUser != "" && cfg.DockerAccessToken != "" {
		header, err := encodeAuth(registry.AuthConfig{
			Username:      cfg.DockerUser,
			Password:      cfg.DockerAccessToken,
			ServerAddress: cfg.DockerRegistry,
		})
		if err != nil {
			return nil, err
		}
		c.authHeader = header
		c.lg.Info().Str("registry", cfg.DockerRegistry).Str("user", cfg.DockerUser).Msg("configured registry authentication")
	}
	return c, nil
}

// registryAuth returns the encoded credentials for the registry hosting ref.
func (c *Client) registryAuth(ctx context.Context, ref string) (string, error) {
	if !functions.IsECRReference(ref) {
		return c.authHeader, nil
	}
	if c.ecr == nil {
		return "", fmt.Errorf("image %s lives in ECR but no ECR credentials are configured", ref)
	}
	auth, err := c.ecr.Authorization(ctx)
	if err != nil {
		return "", fmt.Errorf("ecr authorization: %w", err)
	}
	return encodeAuth(auth)
}

func encodeAuth(auth registry.AuthConfig) (string, error) {
	encodedJSON, err := json.Marshal(auth)
	if err != nil {
		return "", fmt.Errorf("marshal auth config: %w", err)
	}
	return base64.URLEncoding.EncodeToString(encodedJSON), nil
}

// removeContainer force-removes name. It reports false when there was
// nothing to remove.
func (c *Client) removeContainer(ctx context.Context, name string) (bool, error) {
	err := c.api.ContainerRemove(ctx, name, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	switch {
	case err == nil:
		c.lg.Info().Str("container", name).Msg("container removed")
		return true, nil
	case client.IsErrNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("docker remove %s: %w", name, err)
}

// removeImage force-removes ref. It reports false when there was nothing to remove.
func (c *Client) removeImage(ctx context.Context, ref string) (bool, error) {
	_, err := c.api.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true})
	switch {
	case err == nil:
		c.lg.Info().Str("image", ref).Msg("image removed")
		return true, nil
	case client.IsErrNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("docker rmi %s: %w", ref, err)
}

// imageExists reports whether any local image carries the tag ref.
func (c *Client) imageExists(ctx context.Context, ref string) (bool, error) {
	tags, err := c.repoTags(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if t == ref {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) repoTags(ctx context.Context) ([]string, error) {
	images, err := c.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker image ls: %w", err)
	}
	var tags []string
	for _, img := range images {
		tags = append(tags, img.RepoTags...)
	}
	return tags, nil
}

var errNoStream = errors.New("engine returned no progress stream")
