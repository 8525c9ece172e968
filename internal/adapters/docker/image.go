package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"container-invoker/internal/core/functions"
	"container-invoker/pkg/poll"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
)

// Runtime base images keyed by runtime version. Unknown versions fall back
// to the baseline.
var baseImages = map[string]string{
	"8":  "anapsix/alpine-java:8u202b08_jdk",
	"11": "eclipse-temurin:11.0.13_8-jre-focal",
	"19": "openjdk:19-slim",
}

// BaseImage returns the runtime image for version.
func BaseImage(version string) string {
	if img, ok := baseImages[version]; ok {
		return img
	}
	return baseImages[functions.BaselineRuntimeVersion]
}

// Dockerfile renders the build manifest for def.
func Dockerfile(def *functions.Definition) (string, error) {
	payload, err := def.Payload()
	if err != nil {
		return "", err
	}
	cmd, err := json.Marshal([]string{"java", "-jar", def.ArchiveFileName(), payload})
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n", BaseImage(def.RuntimeVersion))
	sb.WriteString("WORKDIR /\n")
	sb.WriteString("ADD . ./\n")
	fmt.Fprintf(&sb, "CMD %s\n", cmd)
	return sb.String(), nil
}

// ContextDir is where the build context for fn is assembled.
func (c *Client) ContextDir(fn string, target functions.Target) string {
	if target == functions.TargetLocal {
		return filepath.Join(c.cfg.WorkDir, "local-function", fn)
	}
	return filepath.Join(c.cfg.WorkDir, "scripts", fn)
}

// Build assembles the build context for def and builds its image. An image
// with the same tag is removed first, so repeated builds leave one image.
func (c *Client) Build(ctx context.Context, def *functions.Definition, target functions.Target) (string, error) {
	start := time.Now()

	artifact, err := c.locateArtifact(def.ArchiveFileName())
	if err != nil {
		return "", err
	}

	tag := c.naming.LocalImage(def.Name)
	if target != functions.TargetLocal {
		tag = c.naming.RegistryImage(def.Name)
	}
	dir := c.ContextDir(def.Name, target)
	if err := c.prepareContext(dir, artifact, def); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.contexts[tag] = dir
	c.mu.Unlock()

	if err := c.buildImage(ctx, dir, tag); err != nil {
		c.dropContext(tag)
		return "", err
	}

	c.lg.Info().
		Str("image", tag).
		Str("base", BaseImage(def.RuntimeVersion)).
		Dur("took", time.Since(start)).
		Msg("image built")
	return tag, nil
}

func (c *Client) buildImage(ctx context.Context, dir, tag string) error {
	exists, err := c.imageExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		c.lg.Info().Str("image", tag).Msg("replacing existing image")
		if _, err := c.removeImage(ctx, tag); err != nil {
			return err
		}
	}

	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := c.api.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker build %s: %w", tag, err)
	}
	return c.drain(resp.Body, "build", tag)
}

// Push uploads ref to its registry.
func (c *Client) Push(ctx context.Context, ref string) error {
	start := time.Now()
	auth, err := c.registryAuth(ctx, ref)
	if err != nil {
		return err
	}
	rc, err := c.api.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("docker push %s: %w", ref, err)
	}
	if err := c.drain(rc, "push", ref); err != nil {
		return err
	}
	c.lg.Info().Str("image", ref).Dur("took", time.Since(start)).Msg("image pushed")
	return nil
}

// Pull fetches ref and then waits until the image listing shows a tag that
// names both the repository and the function.
func (c *Client) Pull(ctx context.Context, ref, fn string) (bool, error) {
	auth, err := c.registryAuth(ctx, ref)
	if err != nil {
		return false, err
	}
	c.lg.Info().Str("image", ref).Msg("pulling image from registry")
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return false, fmt.Errorf("docker pull %s: %w", ref, err)
	}
	if err := c.drain(rc, "pull", ref); err != nil {
		return false, err
	}

	repo := repositoryOf(ref)
	_, err = poll.Until(ctx, c.verifyPolicy(), func(ctx context.Context, _ int) (struct{}, bool, error) {
		tags, err := c.repoTags(ctx)
		if err != nil {
			return struct{}{}, false, poll.Retryable(err)
		}
		return struct{}{}, pulled(tags, repo, fn), nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, poll.ErrTimeout):
		c.lg.Warn().Str("image", ref).Str("function", fn).Msg("pulled image not listed, check the image link")
		return false, nil
	}
	return false, err
}

// Remove deletes ref and the build context it was built from.
func (c *Client) Remove(ctx context.Context, ref string) error {
	_, err := c.removeImage(ctx, ref)
	c.dropContext(ref)
	return err
}

func (c *Client) dropContext(ref string) {
	c.mu.Lock()
	dir, ok := c.contexts[ref]
	delete(c.contexts, ref)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		c.lg.Warn().Err(err).Str("dir", dir).Msg("removing build context")
		return
	}
	c.lg.Debug().Str("dir", dir).Msg("build context removed")
}

func (c *Client) verifyPolicy() poll.Policy {
	p := c.policy
	if p.MaxAttempts <= 0 || p.MaxAttempts > 5 {
		p.MaxAttempts = 5
	}
	return p
}

// pulled reports whether a single tag contains both the repository and the
// function name.
func pulled(tags []string, repo, fn string) bool {
	for _, t := range tags {
		if strings.Contains(t, repo) && strings.Contains(t, fn) {
			return true
		}
	}
	return false
}

// repositoryOf strips the tag or digest from ref as the listing shows it.
func repositoryOf(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
			return ref[:i]
		}
		return ref
	}
	return reference.FamiliarName(named)
}

// locateArtifact searches the configured artifact directories in order.
func (c *Client) locateArtifact(file string) (string, error) {
	var searched []string
	for _, dir := range []string{c.cfg.ArtifactDir, c.cfg.FallbackArtifactDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, file)
		searched = append(searched, path)
		st, err := os.Stat(path)
		if err != nil || st.IsDir() {
			continue
		}
		if st.Size() == 0 {
			return "", &functions.ArtifactNotFoundError{Name: file, Searched: searched, Empty: true}
		}
		c.lg.Info().Str("artifact", path).Msg("artifact located")
		return path, nil
	}
	return "", &functions.ArtifactNotFoundError{Name: file, Searched: searched}
}

func (c *Client) prepareContext(dir, artifact string, def *functions.Definition) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	if err := copyFile(artifact, filepath.Join(dir, def.ArchiveFileName())); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if cred := c.cfg.CredentialsFile; cred != "" {
		if st, err := os.Stat(cred); err == nil && st.Size() > 0 {
			if err := copyFile(cred, filepath.Join(dir, filepath.Base(cred))); err != nil {
				return fmt.Errorf("copy credentials: %w", err)
			}
		}
	}
	manifest, err := Dockerfile(def)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(manifest), 0o644); err != nil {
		return fmt.Errorf("write Dockerfile: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// drain consumes an engine progress stream and returns the first error it reports.
func (c *Client) drain(rc io.ReadCloser, op, ref string) error {
	if rc == nil {
		return fmt.Errorf("docker %s %s: %w", op, ref, errNoStream)
	}
	defer rc.Close()
	err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, func(msg jsonmessage.JSONMessage) {
		if msg.Aux != nil {
			c.lg.Debug().Str("op", op).RawJSON("aux", *msg.Aux).Msg("engine aux message")
		}
	})
	if err != nil {
		return fmt.Errorf("docker %s %s: %w", op, ref, err)
	}
	return nil
}
