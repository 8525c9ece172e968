package functions

import (
	"strings"
)

// Naming derives every externally visible resource name. The formats are
// consumed by Docker, Terraform and CloudWatch and must not drift.
type Naming struct {
	LocalUser      string // lower-cased on use
	LogGroupPrefix string // e.g. "/ecs/terraform_ecs_log"
	StreamPrefix   string // e.g. "ecs"
	RegistryRepo   string // "<user>/<repo>" or an ECR repository URI
}

// LocalImage is the tag of an image built for the local engine.
func (n Naming) LocalImage(fn string) string {
	return "local-function:" + fn
}

// LocalContainer is the deterministic container name for a local run.
func (n Naming) LocalContainer(fn string) string {
	return "local-function_" + fn
}

// RegistryImage is the tag pushed for a managed-service run.
func (n Naming) RegistryImage(fn string) string {
	return n.RegistryRepo + ":" + fn
}

// Suffix keeps resources of different functions and users apart in one account.
func (n Naming) Suffix(fn string) string {
	return strings.ToLower("_" + fn + "_" + n.LocalUser)
}

// LogGroup is the CloudWatch log group the task writes to.
func (n Naming) LogGroup(fn string) string {
	return strings.ToLower(n.LogGroupPrefix + n.Suffix(fn))
}

// LogStreamPrefix filters the streams belonging to fn inside its log group.
func (n Naming) LogStreamPrefix(fn string) string {
	return n.StreamPrefix + "/" + fn
}

// ToolContainer is the container hosting the provisioning tool for fn.
func (n Naming) ToolContainer(fn string) string {
	return "local-terraform_" + fn
}

// NormalizeUser keeps only ASCII letters, as resource names reject the rest.
func NormalizeUser(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
