package ecr

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rs/zerolog"
)

type fakeAPI struct {
	tokenCalls int
	expires    time.Time
	repos      map[string]string
	created    []string
}

func (f *fakeAPI) GetAuthorizationToken(context.Context, *ecr.GetAuthorizationTokenInput, ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.tokenCalls++
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []types.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("AWS:secret-password"))),
			ExpiresAt:          aws.Time(f.expires),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.eu-central-1.amazonaws.com"),
		}},
	}, nil
}

func (f *fakeAPI) DescribeRepositories(_ context.Context, in *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	uri, ok := f.repos[in.RepositoryNames[0]]
	if !ok {
		return nil, &types.RepositoryNotFoundException{Message: aws.String("not found")}
	}
	return &ecr.DescribeRepositoriesOutput{Repositories: []types.Repository{{RepositoryUri: aws.String(uri)}}}, nil
}

func (f *fakeAPI) CreateRepository(_ context.Context, in *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	name := aws.ToString(in.RepositoryName)
	f.created = append(f.created, name)
	uri := "123456789012.dkr.ecr.eu-central-1.amazonaws.com/" + name
	f.repos[name] = uri
	return &ecr.CreateRepositoryOutput{Repository: &types.Repository{RepositoryUri: aws.String(uri)}}, nil
}

func TestAuthorizationIsCached(t *testing.T) {
	api := &fakeAPI{expires: time.Now().Add(12 * time.Hour)}
	c := NewWithAPI(api, zerolog.Nop())

	for range 3 {
		auth, err := c.Authorization(context.Background())
		if err != nil {
			t.Fatalf("Authorization() error = %v", err)
		}
		if auth.Username != "AWS" || auth.Password != "secret-password" {
			t.Errorf("Authorization() = %+v", auth)
		}
	}
	if api.tokenCalls != 1 {
		t.Errorf("token requested %d times, want 1", api.tokenCalls)
	}
}

func TestAuthorizationRefreshesNearExpiry(t *testing.T) {
	api := &fakeAPI{expires: time.Now().Add(time.Minute)}
	c := NewWithAPI(api, zerolog.Nop())

	for range 2 {
		if _, err := c.Authorization(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if api.tokenCalls != 2 {
		t.Errorf("token requested %d times, want 2", api.tokenCalls)
	}
}

func TestEnsureRepository(t *testing.T) {
	api := &fakeAPI{repos: map[string]string{"existing": "123456789012.dkr.ecr.eu-central-1.amazonaws.com/existing"}}
	c := NewWithAPI(api, zerolog.Nop())
	ctx := context.Background()

	uri, err := c.EnsureRepository(ctx, "existing")
	if err != nil || uri != "123456789012.dkr.ecr.eu-central-1.amazonaws.com/existing" {
		t.Fatalf("EnsureRepository(existing) = %q, %v", uri, err)
	}
	uri, err = c.EnsureRepository(ctx, "jcontainer_ecr")
	if err != nil || uri != "123456789012.dkr.ecr.eu-central-1.amazonaws.com/jcontainer_ecr" {
		t.Fatalf("EnsureRepository(jcontainer_ecr) = %q, %v", uri, err)
	}
	if len(api.created) != 1 {
		t.Errorf("created %v, want exactly one repository", api.created)
	}
}

type failingAPI struct{ fakeAPI }

func (failingAPI) DescribeRepositories(context.Context, *ecr.DescribeRepositoriesInput, ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return nil, errors.New("access denied")
}

func TestEnsureRepositoryPropagatesOtherErrors(t *testing.T) {
	c := NewWithAPI(&failingAPI{}, zerolog.Nop())
	if _, err := c.EnsureRepository(context.Background(), "jcontainer_ecr"); err == nil {
		t.Fatal("EnsureRepository() error = nil, want access denied")
	}
}
