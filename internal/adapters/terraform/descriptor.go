package terraform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DescriptorFile is the descriptor name inside a stack directory. Terraform
// reads *.tf.json files as JSON configuration syntax.
const DescriptorFile = "main.tf.json"

// Fargate sizing of the task and its single container.
const (
	taskCPU         = 512
	taskMemory      = 4096
	containerCPU    = 10
	containerMemory = 512
)

// Vars are the values a descriptor is rendered from.
type Vars struct {
	Suffix           string // "_<fn>_<user>", lower-cased
	FunctionName     string
	Image            string
	Region           string
	AccessKey        string
	SecretKey        string
	SessionToken     string
	LogGroup         string
	LogRetentionDays int
	StreamPrefix     string
	KMSKeyARN        string
	ExecutionRoleARN string
	Subnet           string
	SecurityGroup    string
}

func (v Vars) clusterResource() string { return "terraform_cluster" + v.Suffix }
func (v Vars) taskResource() string    { return "terraform_task" + v.Suffix }
func (v Vars) serviceResource() string { return "terraform_service" + v.Suffix }

type (
	document struct {
		Locals   map[string]any            `json:"locals"`
		Provider map[string]providerBlock  `json:"provider"`
		Resource map[string]map[string]any `json:"resource"`
		Output   map[string]outputBlock    `json:"output"`
	}

	providerBlock struct {
		Region    string `json:"region"`
		AccessKey string `json:"access_key,omitempty"`
		SecretKey string `json:"secret_key,omitempty"`
		Token     string `json:"token,omitempty"`
	}

	outputBlock struct {
		Value string `json:"value"`
	}

	logGroup struct {
		Name            string `json:"name"`
		RetentionInDays string `json:"retention_in_days"`
	}

	cluster struct {
		Name          string               `json:"name"`
		Configuration clusterConfiguration `json:"configuration"`
	}

	clusterConfiguration struct {
		ExecuteCommand executeCommand `json:"execute_command_configuration"`
	}

	executeCommand struct {
		KMSKeyID         string           `json:"kms_key_id,omitempty"`
		Logging          string           `json:"logging"`
		LogConfiguration execLogTransport `json:"log_configuration"`
	}

	execLogTransport struct {
		EncryptionEnabled bool   `json:"cloud_watch_encryption_enabled"`
		LogGroupName      string `json:"cloud_watch_log_group_name"`
	}

	taskDefinition struct {
		Family                  string   `json:"family"`
		ContainerDefinitions    string   `json:"container_definitions"`
		CPU                     int      `json:"cpu"`
		Memory                  int      `json:"memory"`
		RequiresCompatibilities []string `json:"requires_compatibilities"`
		NetworkMode             string   `json:"network_mode"`
		ExecutionRoleARN        string   `json:"execution_role_arn"`
		TaskRoleARN             string   `json:"task_role_arn"`
	}

	service struct {
		Name           string               `json:"name"`
		Cluster        string               `json:"cluster"`
		TaskDefinition string               `json:"task_definition"`
		DesiredCount   int                  `json:"desired_count"`
		LaunchType     string               `json:"launch_type"`
		Network        networkConfiguration `json:"network_configuration"`
	}

	networkConfiguration struct {
		Subnets        []string `json:"subnets"`
		SecurityGroups []string `json:"security_groups"`
		AssignPublicIP bool     `json:"assign_public_ip"`
	}
)

// Render produces the JSON descriptor for one function's stack: a log group,
// an ECS cluster, a Fargate task definition logging through awslogs, and a
// service running one copy of the task.
func Render(v Vars) ([]byte, error) {
	// container_definitions is a JSON string in the ECS provider; templates
	// inside it are interpolated by Terraform.
	containers, err := json.Marshal([]map[string]any{{
		"name":      "${local.l_function_name}",
		"image":     "${local.l_docker_image}",
		"cpu":       containerCPU,
		"memory":    containerMemory,
		"essential": true,
		"logConfiguration": map[string]any{
			"logDriver": "awslogs",
			"options": map[string]string{
				"awslogs-group":         "${local.l_log_group_name}",
				"awslogs-region":        "${local.l_region}",
				"awslogs-stream-prefix": "${local.l_stream_prefix}",
			},
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal container definitions: %w", err)
	}

	doc := document{
		Locals: map[string]any{
			"l_region":             v.Region,
			"l_log_group_name":     v.LogGroup,
			"l_retention_in_days":  strconv.Itoa(v.LogRetentionDays),
			"l_cluster_name":       "ecs-terraform-cluster" + v.Suffix,
			"l_kms_key_id":         v.KMSKeyARN,
			"l_family":             v.FunctionName + "_definition",
			"l_function_name":      v.FunctionName,
			"l_docker_image":       v.Image,
			"l_stream_prefix":      v.StreamPrefix,
			"l_execution_role_arn": v.ExecutionRoleARN,
			"l_task_role_arn":      v.ExecutionRoleARN,
			"l_service_name":       "terraform_service" + v.Suffix,
			"l_subnet":             v.Subnet,
			"l_vpc_security_group": v.SecurityGroup,
		},
		Provider: map[string]providerBlock{
			"aws": {
				Region:    "${local.l_region}",
				AccessKey: v.AccessKey,
				SecretKey: v.SecretKey,
				Token:     v.SessionToken,
			},
		},
		Resource: map[string]map[string]any{
			"aws_cloudwatch_log_group": {
				"terraform_ecs_log": logGroup{
					Name:            "${local.l_log_group_name}",
					RetentionInDays: "${local.l_retention_in_days}",
				},
			},
			"aws_ecs_cluster": {
				v.clusterResource(): cluster{
					Name: "${local.l_cluster_name}",
					Configuration: clusterConfiguration{ExecuteCommand: executeCommand{
						KMSKeyID: v.KMSKeyARN,
						Logging:  "OVERRIDE",
						LogConfiguration: execLogTransport{
							EncryptionEnabled: true,
							LogGroupName:      "${aws_cloudwatch_log_group.terraform_ecs_log.name}",
						},
					}},
				},
			},
			"aws_ecs_task_definition": {
				v.taskResource(): taskDefinition{
					Family:                  "${local.l_family}",
					ContainerDefinitions:    string(containers),
					CPU:                     taskCPU,
					Memory:                  taskMemory,
					RequiresCompatibilities: []string{"FARGATE"},
					NetworkMode:             "awsvpc",
					ExecutionRoleARN:        "${local.l_execution_role_arn}",
					TaskRoleARN:             "${local.l_task_role_arn}",
				},
			},
			"aws_ecs_service": {
				v.serviceResource(): service{
					Name:           "${local.l_service_name}",
					Cluster:        fmt.Sprintf("${aws_ecs_cluster.%s.id}", v.clusterResource()),
					TaskDefinition: fmt.Sprintf("${aws_ecs_task_definition.%s.arn}", v.taskResource()),
					DesiredCount:   1,
					LaunchType:     "FARGATE",
					Network: networkConfiguration{
						Subnets:        []string{"${local.l_subnet}"},
						SecurityGroups: []string{"${local.l_vpc_security_group}"},
						AssignPublicIP: true,
					},
				},
			},
		},
		Output: map[string]outputBlock{
			"log_group":        {Value: "${aws_cloudwatch_log_group.terraform_ecs_log.arn}"},
			"cluster_arn":      {Value: fmt.Sprintf("${aws_ecs_cluster.%s.arn}", v.clusterResource())},
			"aws_ecs_task_arn": {Value: fmt.Sprintf("${aws_ecs_task_definition.%s.arn}", v.taskResource())},
		},
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return append(b, '\n'), nil
}

// WriteDescriptor renders v into dir. The file holds credentials and is
// readable by the owner only.
func WriteDescriptor(dir string, v Vars) (string, error) {
	b, err := Render(v)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create stack dir: %w", err)
	}
	path := filepath.Join(dir, DescriptorFile)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("write descriptor: %w", err)
	}
	return path, nil
}
