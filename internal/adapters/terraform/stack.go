// Package terraform provisions per-function ECS stacks with Terraform running
// inside a disposable tool container.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"container-invoker/internal/adapters/shell"
	"container-invoker/internal/config"
	"container-invoker/internal/core/functions"

	"github.com/rs/zerolog"
)

// ToolHost runs the tool container on the local engine.
type ToolHost interface {
	EnsureToolImage(ctx context.Context, tag, base string) error
	StartTool(ctx context.Context, name, image, hostDir string) error
	RemoveTool(ctx context.Context, name, image string) (functions.Removal, error)
}

// CommandRunner executes command lines on the host.
type CommandRunner interface {
	Run(ctx context.Context, dir string, cmds ...string) ([]shell.Result, error)
}

// Workdir is where the tool container sees the stack directory.
const Workdir = "/workspace"

// Provisioner hands out stacks sharing one tool host and command runner.
type Provisioner struct {
	cfg    config.Config
	naming functions.Naming
	host   ToolHost
	runner CommandRunner
	lg     zerolog.Logger
}

var _ functions.Provisioner = (*Provisioner)(nil)

func New(cfg config.Config, naming functions.Naming, host ToolHost, runner CommandRunner, lg zerolog.Logger) *Provisioner {
	return &Provisioner{
		cfg:    cfg,
		naming: naming,
		host:   host,
		runner: runner,
		lg:     lg.With().Str("adapter", "terraform").Logger(),
	}
}

// ToolImage is the local tag of the tool image.
func (p *Provisioner) ToolImage() string {
	return "local-terraform:" + p.cfg.TerraformVersion
}

// Dir is the stack directory of fn.
func (p *Provisioner) Dir(fn string) string {
	return filepath.Join(p.cfg.WorkDir, "scripts", fn)
}

func (p *Provisioner) Stack(def *functions.Definition, image string) functions.Stack {
	name := "terraform" + p.naming.Suffix(def.Name)
	return &Stack{
		p:     p,
		def:   def,
		image: image,
		name:  name,
		tool:  p.naming.ToolContainer(def.Name),
		dir:   p.Dir(def.Name),
		lg:    p.lg.With().Str("stack", name).Logger(),
	}
}

func (p *Provisioner) vars(def *functions.Definition, image string) Vars {
	return Vars{
		Suffix:           p.naming.Suffix(def.Name),
		FunctionName:     def.Name,
		Image:            image,
		Region:           p.cfg.AWSRegion,
		AccessKey:        p.cfg.AWSAccessKey,
		SecretKey:        p.cfg.AWSSecretKey,
		SessionToken:     p.cfg.AWSSessionToken,
		LogGroup:         p.naming.LogGroup(def.Name),
		LogRetentionDays: p.cfg.LogRetentionDays,
		StreamPrefix:     p.cfg.LogStreamPrefix,
		KMSKeyARN:        p.cfg.AWSEncryptionKeyARN,
		ExecutionRoleARN: p.cfg.AWSExecutionRoleARN,
		Subnet:           p.cfg.AWSSubnet,
		SecurityGroup:    p.cfg.AWSSecurityGroup,
	}
}

// Stack is one function's infrastructure. It is used by a single invocation.
type Stack struct {
	p     *Provisioner
	def   *functions.Definition
	image string
	name  string
	tool  string
	dir   string
	lg    zerolog.Logger
}

func (s *Stack) Name() string     { return s.name }
func (s *Stack) ToolName() string { return s.tool }

// Bootstrap writes the descriptor and starts the tool container on it.
func (s *Stack) Bootstrap(ctx context.Context) error {
	path, err := WriteDescriptor(s.dir, s.p.vars(s.def, s.image))
	if err != nil {
		return &functions.ProvisioningError{Stage: "bootstrap", ExitCode: -1, Err: err}
	}
	s.lg.Info().Str("descriptor", path).Str("image", s.image).Msg("descriptor written")

	img := s.p.ToolImage()
	if err := s.p.host.EnsureToolImage(ctx, img, "hashicorp/terraform:"+s.p.cfg.TerraformVersion); err != nil {
		return &functions.ProvisioningError{Stage: "bootstrap", ExitCode: -1, Err: err}
	}
	if err := s.p.host.StartTool(ctx, s.tool, img, s.dir); err != nil {
		return &functions.ProvisioningError{Stage: "bootstrap", ExitCode: -1, Err: err}
	}
	return nil
}

// Apply initialises the working directory and converges the stack.
func (s *Stack) Apply(ctx context.Context) error {
	start := time.Now()
	_, err := s.exec(ctx, "apply",
		"terraform init -input=false",
		"terraform refresh -input=false",
		"terraform apply -auto-approve -input=false",
	)
	if err != nil {
		return err
	}
	s.lg.Info().Dur("took", time.Since(start)).Msg("stack applied")
	return nil
}

// Destroy plans and applies the removal of every resource in the stack.
func (s *Stack) Destroy(ctx context.Context) error {
	start := time.Now()
	_, err := s.exec(ctx, "destroy",
		"terraform plan -destroy -out=tfplan -input=false",
		"terraform apply -input=false tfplan",
	)
	if err != nil {
		return err
	}
	s.lg.Info().Dur("took", time.Since(start)).Msg("stack destroyed")
	return nil
}

// Outputs returns the stack outputs as printed by terraform output -json.
func (s *Stack) Outputs(ctx context.Context) (json.RawMessage, error) {
	results, err := s.exec(ctx, "outputs", "terraform output -json")
	if err != nil {
		return nil, err
	}
	raw := strings.Join(results[0].Stdout, "\n")
	if !json.Valid([]byte(raw)) {
		return nil, &functions.ProvisioningError{
			Stage:   "outputs",
			Command: results[0].Command,
			Output:  results[0].Stdout,
			Err:     errors.New("output is not valid JSON"),
		}
	}
	return json.RawMessage(raw), nil
}

// RemoveTool removes the tool container, its image and the stack directory.
func (s *Stack) RemoveTool(ctx context.Context) error {
	removal, err := s.p.host.RemoveTool(ctx, s.tool, s.p.ToolImage())
	s.lg.Info().
		Bool("container_removed", removal.ContainerRemoved).
		Bool("image_removed", removal.ImageRemoved).
		Msg("tool container removed")
	if rmErr := os.RemoveAll(s.dir); rmErr != nil {
		err = errors.Join(err, fmt.Errorf("remove stack dir: %w", rmErr))
	}
	return err
}

// exec runs each terraform command inside the tool container.
func (s *Stack) exec(ctx context.Context, stage string, cmds ...string) ([]shell.Result, error) {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = fmt.Sprintf("docker exec -w %s %s %s", Workdir, s.tool, c)
	}
	results, err := s.p.runner.Run(ctx, s.dir, lines...)
	if err == nil {
		return results, nil
	}

	var exit *shell.ExitError
	if errors.As(err, &exit) {
		return results, &functions.ProvisioningError{
			Stage:    stage,
			Command:  exit.Result.Command,
			ExitCode: exit.Result.ExitCode,
			Output:   slices.Concat(exit.Result.Stdout, exit.Result.Stderr),
		}
	}
	pe := &functions.ProvisioningError{Stage: stage, ExitCode: -1, Err: err}
	if n := len(results); n > 0 {
		pe.Command = results[n-1].Command
	}
	return results, pe
}
