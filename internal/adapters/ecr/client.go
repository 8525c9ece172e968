package ecr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"
)

// API is the part of the ECR client the adapter uses.
type API interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// Client hands out registry credentials for ECR and manages the repository
// function images are pushed to.
type Client struct {
	api API
	lg  zerolog.Logger

	mu      sync.Mutex
	auth    registry.AuthConfig
	expires time.Time
}

func New(cfg aws.Config, lg zerolog.Logger) *Client {
	return NewWithAPI(ecr.NewFromConfig(cfg), lg)
}

func NewWithAPI(api API, lg zerolog.Logger) *Client {
	return &Client{api: api, lg: lg.With().Str("adapter", "ecr").Logger()}
}

// expiryMargin renews a token before ECR would reject it.
const expiryMargin = 5 * time.Minute

// Authorization returns docker credentials for the account's registry. The
// token is cached until shortly before it expires.
func (c *Client) Authorization(ctx context.Context) (registry.AuthConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth.Password != "" && time.Now().Before(c.expires.Add(-expiryMargin)) {
		return c.auth, nil
	}

	out, err := c.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return registry.AuthConfig{}, fmt.Errorf("get authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return registry.AuthConfig{}, errors.New("get authorization token: no authorization data returned")
	}
	data := out.AuthorizationData[0]

	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return registry.AuthConfig{}, fmt.Errorf("decode authorization token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return registry.AuthConfig{}, errors.New("decode authorization token: expected user:password")
	}

	c.auth = registry.AuthConfig{
		Username:      user,
		Password:      pass,
		ServerAddress: aws.ToString(data.ProxyEndpoint),
	}
	c.expires = aws.ToTime(data.ExpiresAt)
	c.lg.Info().Str("registry", c.auth.ServerAddress).Time("expires", c.expires).Msg("ecr token refreshed")
	return c.auth, nil
}

// EnsureRepository returns the URI of repository name, creating it when it
// does not exist yet.
func (c *Client) EnsureRepository(ctx context.Context, name string) (string, error) {
	out, err := c.api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{name}})
	var notFound *types.RepositoryNotFoundException
	switch {
	case err == nil && len(out.Repositories) > 0:
		return aws.ToString(out.Repositories[0].RepositoryUri), nil
	case err != nil && !errors.As(err, &notFound):
		return "", fmt.Errorf("describe repository %s: %w", name, err)
	}

	c.lg.Info().Str("repository", name).Msg("repository does not exist and will be created")
	created, err := c.api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:             aws.String(name),
		ImageTagMutability:         types.ImageTagMutabilityMutable,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{ScanOnPush: false},
	})
	if err != nil {
		return "", fmt.Errorf("create repository %s: %w", name, err)
	}
	return aws.ToString(created.Repository.RepositoryUri), nil
}
