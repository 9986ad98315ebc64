// Package aws wraps the EC2 operations consumed by the decommission
// pipeline: list by tag, inspect and clear protection flags, image an
// instance, terminate it, and confirm the state transition.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/decom/types"
)

// EC2API is the slice of the EC2 client the pipeline needs. *ec2.Client
// satisfies it; tests substitute a double.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	CreateImage(ctx context.Context, params *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Client exposes typed EC2 operations for the pipeline
type Client struct {
	api    EC2API
	region string
}

// New builds a Client from the ambient credential chain
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Client{api: ec2.NewFromConfig(cfg), region: region}, nil
}

// NewWithAPI wires an explicit API handle, used by tests
func NewWithAPI(api EC2API, region string) *Client {
	return &Client{api: api, region: region}
}

// Region returns the region the client operates in
func (c *Client) Region() string {
	return c.region
}

// ListInstances returns candidates matching the tag filters, in the
// provider's native listing order. Instances already terminated or
// shutting down are skipped.
func (c *Client) ListInstances(ctx context.Context, filters []types.TagFilter) ([]types.Candidate, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: make([]ec2types.Filter, 0, len(filters)),
	}
	for _, f := range filters {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String("tag:" + f.Key),
			Values: f.Values,
		})
	}

	var candidates []types.Candidate
	paginator := ec2.NewDescribeInstancesPaginator(c.api, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				state := stateName(instance)
				if types.IsTerminal(state) {
					continue
				}

				id := aws.ToString(instance.InstanceId)
				protection, err := c.ProtectionState(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("failed to read protection flags for %s: %w", id, err)
				}

				tags := convertTags(instance.Tags)
				candidates = append(candidates, types.Candidate{
					InstanceID:            id,
					Name:                  tags["Name"],
					State:                 state,
					TerminationProtection: protection.TerminationProtection,
					StopProtection:        protection.StopProtection,
					Tags:                  tags,
					ObservedAt:            time.Now(),
				})
			}
		}
	}

	return candidates, nil
}

// ProtectionState reads both delete-protection flags for an instance
func (c *Client) ProtectionState(ctx context.Context, instanceID string) (types.ProtectionState, error) {
	state := types.ProtectionState{InstanceID: instanceID}

	term, err := c.api.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Attribute:  ec2types.InstanceAttributeNameDisableApiTermination,
	})
	if err != nil {
		return state, fmt.Errorf("describe disableApiTermination: %w", err)
	}
	if term.DisableApiTermination != nil {
		state.TerminationProtection = aws.ToBool(term.DisableApiTermination.Value)
	}

	stop, err := c.api.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Attribute:  ec2types.InstanceAttributeNameDisableApiStop,
	})
	if err != nil {
		return state, fmt.Errorf("describe disableApiStop: %w", err)
	}
	if stop.DisableApiStop != nil {
		state.StopProtection = aws.ToBool(stop.DisableApiStop.Value)
	}

	return state, nil
}

// DisableTerminationProtection flips disableApiTermination off
func (c *Client) DisableTerminationProtection(ctx context.Context, instanceID string) error {
	_, err := c.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:            aws.String(instanceID),
		DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	if err != nil {
		return fmt.Errorf("disable termination protection for %s: %w", instanceID, err)
	}
	return nil
}

// DisableStopProtection flips disableApiStop off
func (c *Client) DisableStopProtection(ctx context.Context, instanceID string) error {
	_, err := c.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:    aws.String(instanceID),
		DisableApiStop: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	if err != nil {
		return fmt.Errorf("disable stop protection for %s: %w", instanceID, err)
	}
	return nil
}

// CreateImage requests an AMI of the instance and tags it with its own name
func (c *Client) CreateImage(ctx context.Context, instanceID, name, description string, noReboot bool) (string, error) {
	output, err := c.api.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(instanceID),
		Name:        aws.String(name),
		Description: aws.String(description),
		NoReboot:    aws.Bool(noReboot),
	})
	if err != nil {
		return "", fmt.Errorf("create image for %s: %w", instanceID, err)
	}

	imageID := aws.ToString(output.ImageId)
	_, err = c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{imageID},
		Tags: []ec2types.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
		},
	})
	if err != nil {
		// The image exists; a missing Name tag is not worth failing the backup
		return imageID, nil
	}

	return imageID, nil
}

// ImageState returns the current state of an AMI plus any failure reason
func (c *Client) ImageState(ctx context.Context, imageID string) (string, string, error) {
	output, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{imageID},
	})
	if err != nil {
		return "", "", fmt.Errorf("describe image %s: %w", imageID, err)
	}
	if len(output.Images) == 0 {
		return "", "", fmt.Errorf("image %s not found", imageID)
	}

	image := output.Images[0]
	var reason string
	if image.StateReason != nil {
		reason = aws.ToString(image.StateReason.Message)
	}
	return string(image.State), reason, nil
}

// Terminate issues the terminate request and returns the state EC2 reports
// the instance transitioning into
func (c *Client) Terminate(ctx context.Context, instanceID string) (string, error) {
	output, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("terminate %s: %w", instanceID, err)
	}
	if len(output.TerminatingInstances) == 0 || output.TerminatingInstances[0].CurrentState == nil {
		return "", nil
	}
	return string(output.TerminatingInstances[0].CurrentState.Name), nil
}

// InstanceState reads the current lifecycle state of a single instance.
// An instance that no longer appears in DescribeInstances is terminated.
func (c *Client) InstanceState(ctx context.Context, instanceID string) (string, error) {
	output, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) == instanceID {
				return stateName(instance), nil
			}
		}
	}
	return types.StateTerminated, nil
}

// stateName reads the lifecycle state, tolerating a nil State block
func stateName(instance ec2types.Instance) string {
	if instance.State == nil {
		return ""
	}
	return string(instance.State.Name)
}

// convertTags flattens EC2 tag pairs into a map
func convertTags(ec2Tags []ec2types.Tag) map[string]string {
	tags := make(map[string]string, len(ec2Tags))
	for _, tag := range ec2Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags
}
