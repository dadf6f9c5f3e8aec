// Package aws implements the EC2 compute adapter for ttlkeeper.
package aws

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// errCodeNotFound is returned by EC2 when any ID of a request does not exist.
const errCodeNotFound = "InvalidInstanceID.NotFound"

// ErrNotAcknowledged marks an ID the provider left out of a batch response.
var ErrNotAcknowledged = errors.New("not acknowledged by provider")

// LoadConfig resolves AWS configuration from the default credential chain.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// LaunchSpec describes the instances to create.
type LaunchSpec struct {
	AMI              string
	InstanceType     string
	KeyName          string
	SubnetID         string
	SecurityGroupIDs []string
	Count            int
}

// Compute is the EC2 compute provider.
type Compute struct {
	client EC2API
	region string
	logger zerolog.Logger
}

// New creates a compute adapter over client.
func New(client EC2API, region string, logger zerolog.Logger) *Compute {
	return &Compute{
		client: client,
		region: region,
		logger: logger.With().Str("component", "ec2").Str("region", region).Logger(),
	}
}

// NewFromConfig creates a compute adapter with a real EC2 client.
func NewFromConfig(cfg aws.Config, logger zerolog.Logger) *Compute {
	return New(ec2.NewFromConfig(cfg), cfg.Region, logger)
}

// Region returns the region the adapter talks to.
func (c *Compute) Region() string {
	return c.region
}

// ListRunning returns every running instance, following pagination.
func (c *Compute) ListRunning(ctx context.Context) ([]resource.Resource, error) {
	var resources []resource.Resource

	paginator := ec2.NewDescribeInstancesPaginator(c.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-state-name"), Values: []string{string(ec2types.InstanceStateNameRunning)}},
		},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fault.Provider("list running instances", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, convertInstance(instance))
			}
		}
	}

	c.logger.Debug().Int("count", len(resources)).Msg("listed running instances")
	return resources, nil
}

// Describe returns a single instance.
func (c *Compute) Describe(ctx context.Context, id string) (resource.Resource, error) {
	output, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return resource.Resource{}, fault.Provider("describe "+id, err)
	}
	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) == id {
				return convertInstance(instance), nil
			}
		}
	}
	return resource.Resource{}, fault.Provider("describe "+id, errors.New("instance not found"))
}

// Terminate requests termination of ids in one call and returns an outcome per ID.
// An error means the call as a whole was rejected and nothing can be assumed.
//
// EC2 rejects the whole batch when any ID no longer exists, even a batch of
// one. In that case each ID is retried alone; the missing ones are reported
// as already terminated.
func (c *Compute) Terminate(ctx context.Context, ids []string) ([]resource.Outcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	output, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	if err != nil {
		if isNotFound(err) {
			c.logger.Warn().Err(err).Strs("ids", ids).Msg("batch terminate hit a missing instance, retrying per instance")
			return c.terminateEach(ctx, ids), nil
		}
		return nil, fault.Provider("terminate instances", err)
	}

	outcomes := stateChanges(ids, output.TerminatingInstances)
	c.logger.Info().Strs("ids", ids).Msg("terminate accepted")
	return outcomes, nil
}

func (c *Compute) terminateEach(ctx context.Context, ids []string) []resource.Outcome {
	outcomes := make([]resource.Outcome, 0, len(ids))
	for _, id := range ids {
		output, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
		switch {
		case err == nil:
			outcomes = append(outcomes, stateChanges([]string{id}, output.TerminatingInstances)...)
		case isNotFound(err):
			c.logger.Info().Str("instance_id", id).Msg("instance no longer exists")
			outcomes = append(outcomes, resource.Outcome{ID: id, Previous: resource.StateUnknown, Current: resource.StateTerminated})
		default:
			outcomes = append(outcomes, resource.Outcome{ID: id, Err: fault.Provider("terminate "+id, err)})
		}
	}
	return outcomes
}

// Start starts id if, and only if, it is currently stopped.
// For any other state the returned outcome has Previous == Current and no error.
func (c *Compute) Start(ctx context.Context, id string) (resource.Outcome, error) {
	inst, err := c.Describe(ctx, id)
	if err != nil {
		return resource.Outcome{ID: id, Err: err}, err
	}
	if inst.State != resource.StateStopped {
		c.logger.Info().Str("instance_id", id).Str("state", string(inst.State)).Msg("instance not stopped, not starting")
		return resource.Outcome{ID: id, Previous: inst.State, Current: inst.State}, nil
	}

	output, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		err = fault.Provider("start "+id, err)
		return resource.Outcome{ID: id, Previous: inst.State, Err: err}, err
	}
	outcome := stateChanges([]string{id}, output.StartingInstances)[0]
	c.logger.Info().Str("instance_id", id).Str("state", string(outcome.Current)).Msg("instance started")
	return outcome, outcome.Err
}

// Stop stops id.
func (c *Compute) Stop(ctx context.Context, id string) (resource.Outcome, error) {
	output, err := c.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		err = fault.Provider("stop "+id, err)
		return resource.Outcome{ID: id, Err: err}, err
	}
	outcome := stateChanges([]string{id}, output.StoppingInstances)[0]
	c.logger.Info().Str("instance_id", id).Str("state", string(outcome.Current)).Msg("instance stopping")
	return outcome, outcome.Err
}

// Create launches exactly spec.Count instances and returns their IDs.
func (c *Compute) Create(ctx context.Context, spec LaunchSpec) ([]string, error) {
	if spec.Count < 1 || spec.Count > math.MaxInt32 {
		return nil, fault.Provider("run instances", fmt.Errorf("count must be between 1 and %d, got %d", math.MaxInt32, spec.Count))
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.AMI),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(int32(spec.Count)),
		MaxCount:     aws.Int32(int32(spec.Count)),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if len(spec.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = spec.SecurityGroupIDs
	}

	output, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fault.Provider("run instances", err)
	}

	ids := make([]string, 0, len(output.Instances))
	for _, instance := range output.Instances {
		ids = append(ids, aws.ToString(instance.InstanceId))
	}
	c.logger.Info().Strs("ids", ids).Str("ami", spec.AMI).Str("instance_type", spec.InstanceType).Msg("instances created")
	return ids, nil
}

// Tag sets tags on id. Keys are written in sorted order.
func (c *Compute) Tag(ctx context.Context, id string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := c.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fault.Provider("tag "+id, err)
	}
	return nil
}

func convertInstance(instance ec2types.Instance) resource.Resource {
	r := resource.Resource{
		ID:           aws.ToString(instance.InstanceId),
		State:        resource.StateUnknown,
		Tags:         make(map[string]string, len(instance.Tags)),
		InstanceType: string(instance.InstanceType),
		LaunchTime:   aws.ToTime(instance.LaunchTime),
	}
	if instance.State != nil {
		r.State = resource.ParseState(string(instance.State.Name))
	}
	for _, tag := range instance.Tags {
		r.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return r
}

// stateChanges maps a batch response onto one outcome per requested ID.
func stateChanges(ids []string, changes []ec2types.InstanceStateChange) []resource.Outcome {
	byID := make(map[string]ec2types.InstanceStateChange, len(changes))
	for _, change := range changes {
		byID[aws.ToString(change.InstanceId)] = change
	}

	outcomes := make([]resource.Outcome, 0, len(ids))
	for _, id := range ids {
		change, ok := byID[id]
		if !ok {
			outcomes = append(outcomes, resource.Outcome{ID: id, Err: ErrNotAcknowledged})
			continue
		}
		o := resource.Outcome{ID: id, Previous: resource.StateUnknown, Current: resource.StateUnknown}
		if change.PreviousState != nil {
			o.Previous = resource.ParseState(string(change.PreviousState.Name))
		}
		if change.CurrentState != nil {
			o.Current = resource.ParseState(string(change.CurrentState.Name))
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == errCodeNotFound
}
