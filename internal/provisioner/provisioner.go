// Package provisioner creates, starts and stops instances on behalf of an operator.
package provisioner

import (
	"context"
	"fmt"
	"os/user"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	awsprovider "github.com/yairfalse/ttlkeeper/internal/provider/aws"
	"github.com/yairfalse/ttlkeeper/internal/ttl"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// Ownership tag keys.
const (
	TagName  = "Name"
	TagOwner = "Owner"
)

// Compute is the provider surface the provisioner drives.
type Compute interface {
	Create(ctx context.Context, spec awsprovider.LaunchSpec) ([]string, error)
	Tag(ctx context.Context, id string, tags map[string]string) error
	Start(ctx context.Context, id string) (resource.Outcome, error)
	Stop(ctx context.Context, id string) (resource.Outcome, error)
}

// Request describes a batch of instances to create.
type Request struct {
	Launch awsprovider.LaunchSpec
	Owner  string
	TTL    int // minutes
}

// CreateResult lists the created instances and the tags each one received.
type CreateResult struct {
	IDs  []string
	Tags map[string]map[string]string
}

// Provisioner creates and toggles instances.
type Provisioner struct {
	compute Compute
	codec   ttl.Codec
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates a provisioner.
func New(compute Compute, codec ttl.Codec, clk clock.Clock, logger zerolog.Logger) *Provisioner {
	if clk == nil {
		clk = clock.New()
	}
	return &Provisioner{
		compute: compute,
		codec:   codec,
		clock:   clk,
		logger:  logger.With().Str("component", "provisioner").Logger(),
	}
}

// CurrentOwner returns the login name of the invoking user.
func CurrentOwner() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	return u.Username, nil
}

// Create launches the requested instances and tags each one with its owner,
// creation time and TTL. Tagging is done per instance: one failure does not
// stop the rest and is reported as a *fault.BatchError alongside the result.
func (p *Provisioner) Create(ctx context.Context, req Request) (*CreateResult, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if req.TTL < 0 {
		return nil, fmt.Errorf("ttl must not be negative, got %d", req.TTL)
	}

	ids, err := p.compute.Create(ctx, req.Launch)
	if err != nil {
		p.logger.Error().Err(err).Int("count", req.Launch.Count).Msg("unable to create instances")
		return nil, err
	}

	now := p.clock.Now()
	result := &CreateResult{IDs: ids, Tags: make(map[string]map[string]string, len(ids))}
	failures := make(map[string]error)

	for idx, id := range ids {
		tags := p.codec.Format(now, req.TTL)
		tags[TagName] = req.Owner + "-" + strconv.Itoa(idx+1)
		tags[TagOwner] = req.Owner

		if err := p.compute.Tag(ctx, id, tags); err != nil {
			p.logger.Error().Err(err).Str("instance_id", id).Msg("unable to tag instance")
			failures[id] = err
			continue
		}
		result.Tags[id] = tags
		p.logger.Info().Str("instance_id", id).Str("name", tags[TagName]).Int("ttl", req.TTL).Msg("instance tagged")
	}

	return result, fault.NewBatchError("tag instances", failures)
}

// Start starts each stopped instance in ids. Instances in any other state are
// left alone. Failures are isolated per ID.
func (p *Provisioner) Start(ctx context.Context, ids []string) ([]resource.Outcome, error) {
	return p.each(ctx, "start instances", ids, p.compute.Start)
}

// Stop stops each instance in ids. Failures are isolated per ID.
func (p *Provisioner) Stop(ctx context.Context, ids []string) ([]resource.Outcome, error) {
	return p.each(ctx, "stop instances", ids, p.compute.Stop)
}

func (p *Provisioner) each(ctx context.Context, op string, ids []string,
	fn func(context.Context, string) (resource.Outcome, error)) ([]resource.Outcome, error) {
	outcomes := make([]resource.Outcome, 0, len(ids))
	failures := make(map[string]error)

	for _, id := range ids {
		outcome, err := fn(ctx, id)
		outcome.ID = id
		if err != nil {
			outcome.Err = err
			failures[id] = err
			p.logger.Error().Err(err).Str("instance_id", id).Str("op", op).Msg("operation failed")
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, fault.NewBatchError(op, failures)
}

// Skipped reports whether a start or stop left the instance in its prior state.
func Skipped(o resource.Outcome) bool {
	return o.OK() && o.Previous != "" && o.Previous == o.Current
}
