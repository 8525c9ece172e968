package functions

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArtifactNotFound is wrapped by ArtifactNotFoundError.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrMalformedRequest is wrapped by MalformedRequestError.
	ErrMalformedRequest = errors.New("malformed invocation request")
	// ErrProvisioning is wrapped by ProvisioningError.
	ErrProvisioning = errors.New("provisioning failed")
	// ErrUnsupportedProvider is wrapped by UnsupportedProviderError.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrOutputsAlreadySet is returned when a definition's outputs are assigned twice.
	ErrOutputsAlreadySet = errors.New("function outputs already set")
)

type (
	// ArtifactNotFoundError reports a runtime artifact that is missing or empty
	// in every searched location.
	ArtifactNotFoundError struct {
		Name     string
		Searched []string
		Empty    bool
	}

	// MalformedRequestError reports an invocation string that is neither an
	// archive name nor a registry reference.
	MalformedRequestError struct {
		Request string
		Reason  string
	}

	// ProvisioningError reports a provisioning stage that failed. ExitCode is
	// -1 when the failure happened before a command could run.
	ProvisioningError struct {
		Stage    string
		Command  string
		ExitCode int
		Output   []string
		Err      error
	}

	// UnsupportedProviderError is returned for targets that exist only as stubs.
	UnsupportedProviderError struct {
		Target Target
	}
)

func (e *ArtifactNotFoundError) Error() string {
	if e.Empty {
		return fmt.Sprintf("artifact %q is empty and cannot be used", e.Name)
	}
	return fmt.Sprintf("artifact %q not found (searched %s)", e.Name, strings.Join(e.Searched, ", "))
}

func (e *ArtifactNotFoundError) Unwrap() error { return ErrArtifactNotFound }

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed invocation request %q: %s", e.Request, e.Reason)
}

func (e *MalformedRequestError) Unwrap() error { return ErrMalformedRequest }

func (e *ProvisioningError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "provisioning %s failed", e.Stage)
	if e.Command != "" {
		fmt.Fprintf(&sb, ": %q exited with code %d", e.Command, e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ProvisioningError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvisioning}
	}
	return []error{ErrProvisioning, e.Err}
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("provider %q is not implemented", e.Target)
}

func (e *UnsupportedProviderError) Unwrap() error { return ErrUnsupportedProvider }

// IsFatal reports whether err must surface to the caller instead of being
// folded into an error-shaped result.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrUnsupportedProvider)
}
