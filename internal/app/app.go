// Package app opens the process-wide clients once and assembles the invoker
// from them.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"container-invoker/internal/adapters/awsconf"
	"container-invoker/internal/adapters/cloudwatch"
	"container-invoker/internal/adapters/docker"
	"container-invoker/internal/adapters/ecr"
	gormjournal "container-invoker/internal/adapters/gorm"
	"container-invoker/internal/adapters/shell"
	"container-invoker/internal/adapters/terraform"
	"container-invoker/internal/config"
	"container-invoker/internal/core/functions"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// App owns the shared clients. Close releases them.
type App struct {
	Invoker *functions.Invoker

	cfg    config.Config
	lg     zerolog.Logger
	naming functions.Naming
	engine docker.API
	docker *docker.Client
	aws    aws.Config
	ecr    *ecr.Client
	db     *gorm.DB
}

// Open connects the engine, the AWS SDK and, when a DSN is configured, the
// journal database. None of these contact a remote service yet.
func Open(ctx context.Context, cfg config.Config, lg zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, lg: lg.With().Str("component", "app").Logger()}

	def, ok := functions.ParseTarget(cfg.DefaultProvider)
	if !ok {
		return nil, fmt.Errorf("unknown default_provider %q", cfg.DefaultProvider)
	}

	user, err := LocalUser(cfg.LocalUser)
	if err != nil {
		return nil, err
	}
	a.naming = functions.Naming{
		LocalUser:      user,
		LogGroupPrefix: cfg.LogGroupPrefix,
		StreamPrefix:   cfg.LogStreamPrefix,
		RegistryRepo:   cfg.RegistryRepo(),
	}

	a.aws, err = awsconf.Load(ctx, awsconf.Credentials{
		AccessKey:    cfg.AWSAccessKey,
		SecretKey:    cfg.AWSSecretKey,
		SessionToken: cfg.AWSSessionToken,
		Region:       cfg.AWSRegion,
	})
	if err != nil {
		return nil, err
	}
	a.ecr = ecr.New(a.aws, lg)

	a.engine, err = docker.Connect()
	if err != nil {
		return nil, err
	}
	a.docker, err = docker.NewWithAPI(a.engine, cfg, a.naming, lg, docker.WithECR(a.ecr))
	if err != nil {
		_ = a.engine.Close()
		return nil, err
	}

	var journal functions.Journal = functions.NopJournal{}
	if cfg.DatabaseDSN != "" {
		a.db, err = gormjournal.New(cfg.DatabaseDSN, lg)
		if err != nil {
			_ = a.engine.Close()
			return nil, err
		}
		journal = gormjournal.NewJournal(a.db)
	} else {
		a.lg.Info().Msg("no database configured, invocations are not journaled")
	}

	a.Invoker = functions.NewInvoker(a.newExecutor, journal, def, lg)

	a.lg.Info().
		Str("local_user", user).
		Str("default_provider", string(def)).
		Str("registry_repo", a.naming.RegistryRepo).
		Msg("application opened")
	return a, nil
}

// newExecutor is the invoker's executor factory. ctx is the invocation that
// first needs t.
func (a *App) newExecutor(ctx context.Context, t functions.Target) (functions.Executor, error) {
	switch t {
	case functions.TargetLocal:
		return functions.NewLocalExecutor(a.docker, a.docker, a.naming, a.lg), nil
	case functions.TargetECS:
		return a.newManagedExecutor(ctx)
	case functions.TargetGKE:
		return functions.NewUnimplementedExecutor(t), nil
	}
	return nil, &functions.UnsupportedProviderError{Target: t}
}

func (a *App) newManagedExecutor(ctx context.Context) (functions.Executor, error) {
	if err := a.cfg.ValidateECS(); err != nil {
		return nil, err
	}

	naming := a.naming
	if naming.RegistryRepo == "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		uri, err := a.ecr.EnsureRepository(ctx, a.cfg.ECRRepoName)
		if err != nil {
			return nil, err
		}
		naming.RegistryRepo = uri
	}

	builder, err := docker.NewWithAPI(a.engine, a.cfg, naming, a.lg, docker.WithECR(a.ecr))
	if err != nil {
		return nil, err
	}
	runner := shell.New(a.lg, shell.WithSecrets(
		a.cfg.AWSAccessKey,
		a.cfg.AWSSecretKey,
		a.cfg.AWSSessionToken,
		a.cfg.DockerAccessToken,
	))
	prov := terraform.New(a.cfg, naming, builder, runner, a.lg)
	retriever := cloudwatch.New(a.aws, naming, a.cfg.PollPolicy(), a.lg)

	a.lg.Info().Str("registry_repo", naming.RegistryRepo).Msg("ecs executor ready")
	return functions.NewManagedExecutor(builder, prov, retriever, a.lg), nil
}

// Cleanup removes what a crashed invocation of fn may have left on the local
// engine and in the work directory.
func (a *App) Cleanup(ctx context.Context, fn string) error {
	var errs []error

	removal, err := a.docker.RemoveAll(ctx, a.naming.LocalContainer(fn), a.naming.LocalImage(fn))
	if err != nil {
		errs = append(errs, err)
	}
	a.lg.Info().
		Str("function", fn).
		Bool("container_removed", removal.ContainerRemoved).
		Bool("image_removed", removal.ImageRemoved).
		Msg("local leftovers removed")

	tool, err := a.docker.RemoveAll(ctx, a.naming.ToolContainer(fn), "")
	if err != nil {
		errs = append(errs, err)
	}
	if tool.ContainerRemoved {
		a.lg.Info().Str("container", a.naming.ToolContainer(fn)).Msg("tool container removed")
	}

	for _, dir := range []string{
		filepath.Join(a.cfg.WorkDir, "local-function", fn),
		filepath.Join(a.cfg.WorkDir, "scripts", fn),
	} {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the engine connection and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

// LocalUser derives the user name embedded in remote resource names: the
// configured name, else the host name, reduced to ASCII letters.
func LocalUser(configured string) (string, error) {
	if u := functions.NormalizeUser(configured); u != "" {
		return u, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("derive local user: %w", err)
	}
	if u := functions.NormalizeUser(host); u != "" {
		return u, nil
	}
	return "", errors.New("derive local user: set local_user, the host name has no letters")
}
