package functions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"
)

// Target selects the executor and infrastructure descriptor for an invocation.
type Target string

const (
	TargetLocal Target = "local"
	TargetECS   Target = "ecs"
	TargetGKE   Target = "gke"
)

// ParseTarget maps a provider hint to a Target.
func ParseTarget(s string) (Target, bool) {
	switch strings.ToLower(s) {
	case "local", "docker":
		return TargetLocal, true
	case "ecs", "aws":
		return TargetECS, true
	case "gke":
		return TargetGKE, true
	}
	return "", false
}

// RequestKind tells archive invocations apart from registry-image invocations.
type RequestKind int

const (
	KindArchive RequestKind = iota
	KindRegistryImage
	KindECRImage
)

func (k RequestKind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindRegistryImage:
		return "registry-image"
	case KindECRImage:
		return "ecr-image"
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// BaselineRuntimeVersion is used when an archive request carries no version.
const BaselineRuntimeVersion = "8"

// Request is an invocation string parsed once at the invoker boundary.
type Request struct {
	Raw            string
	Target         Target
	Kind           RequestKind
	FunctionName   string
	RuntimeVersion string // archive requests only
	Image          string // registry requests only
}

var archivePattern = regexp.MustCompile(`^([a-z0-9][a-z0-9._-]*)(?::([a-z0-9._-]+))?$`)

// ParseRequest classifies raw. A leading "<provider>_" hint selects the target,
// otherwise def is used. All resource identifying parts are lower-cased.
func ParseRequest(raw string, def Target) (Request, error) {
	resource := strings.TrimSpace(raw)
	target := def
	if hint, rest, ok := strings.Cut(resource, "_"); ok {
		if t, known := ParseTarget(hint); known {
			target = t
			resource = rest
		}
	}
	resource = strings.ToLower(resource)

	req := Request{Raw: raw, Target: target}
	if resource == "" {
		return req, &MalformedRequestError{Request: raw, Reason: "empty resource"}
	}

	switch {
	case isECRReference(resource), strings.Contains(resource, "/") && strings.Contains(resource, ":"):
		named, err := reference.ParseNormalizedNamed(resource)
		if err != nil {
			return req, &MalformedRequestError{Request: raw, Reason: "invalid registry reference: " + err.Error()}
		}
		tagged, ok := named.(reference.Tagged)
		if !ok {
			return req, &MalformedRequestError{Request: raw, Reason: "registry reference has no tag"}
		}
		req.Kind = KindRegistryImage
		if isECRReference(resource) {
			req.Kind = KindECRImage
		}
		req.Image = resource
		// The tag names the function by convention.
		req.FunctionName = tagged.Tag()
	default:
		m := archivePattern.FindStringSubmatch(resource)
		if m == nil {
			return req, &MalformedRequestError{
				Request: raw,
				Reason:  "expected name[:version] or repository/name:tag",
			}
		}
		req.Kind = KindArchive
		req.FunctionName = m[1]
		req.RuntimeVersion = m[2]
		if req.RuntimeVersion == "" {
			req.RuntimeVersion = BaselineRuntimeVersion
		}
	}
	return req, nil
}

func isECRReference(s string) bool {
	return strings.Contains(s, ".dkr.ecr.") && strings.Contains(s, ".amazonaws.com/")
}

// IsECRReference reports whether image lives in a managed ECR registry.
func IsECRReference(image string) bool {
	return isECRReference(strings.ToLower(image))
}
