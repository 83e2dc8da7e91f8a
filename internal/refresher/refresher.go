// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package refresher drives one clone refresh cycle to completion:
// discover the live inventory, create the next generation as a
// point-in-time clone, wait for it to become available, configure
// access and credentials, and retire everything it supersedes. The
// process keeps no state between cycles; everything is rediscovered
// from the platform inventory.
package refresher

import (
	"context"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/cloudacademy/dbrefresh/core/accessrule"
	"github.com/cloudacademy/dbrefresh/core/clone"
)

var logger = loggo.GetLogger("dbrefresh.refresher")

// Config holds everything a Refresher needs for one source cluster.
type Config struct {
	// SourceClusterID identifies the production cluster being cloned.
	SourceClusterID string
	// Prefix is the naming prefix for clone generations.
	Prefix string
	// Rules is the ingress allow-list applied to every new generation.
	Rules accessrule.Rules
	// InstanceClass sizes the reader instance of each clone.
	InstanceClass string
	// SubnetGroup optionally places clones in a specific subnet group.
	SubnetGroup string
	// ExtraTags are attached to every created resource in addition to
	// the orchestrator's own tags.
	ExtraTags map[string]string
	// CycleTimeout bounds the wait for a clone to become available.
	CycleTimeout time.Duration
	// PollInterval is the initial delay between availability polls.
	PollInterval time.Duration
	// GracePeriod is how long an unconfigured newest generation may
	// keep a new cycle from starting. A clone still provisioning
	// within the grace period means another cycle is in flight.
	GracePeriod time.Duration

	Clock    clock.Clock
	Clusters ClusterProvider
	Network  NetworkProvider
	Secrets  SecretStore
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.SourceClusterID == "" {
		return errors.NotValidf("empty SourceClusterID")
	}
	if c.Prefix == "" {
		return errors.NotValidf("empty Prefix")
	}
	if err := c.Rules.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.CycleTimeout <= 0 {
		return errors.NotValidf("non-positive CycleTimeout")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if c.GracePeriod <= 0 {
		return errors.NotValidf("non-positive GracePeriod")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Clusters == nil {
		return errors.NotValidf("missing Clusters")
	}
	if c.Network == nil {
		return errors.NotValidf("missing Network")
	}
	if c.Secrets == nil {
		return errors.NotValidf("missing Secrets")
	}
	return nil
}

// Refresher executes refresh cycles for a single source cluster.
type Refresher struct {
	config Config
}

// New returns a Refresher for the given config.
func New(config Config) (*Refresher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Refresher{config: config}, nil
}

// Result reports a completed refresh cycle.
type Result struct {
	// Generation is the new current generation.
	Generation int
	// ClusterID is the new current cluster identifier.
	ClusterID string
	// SecretRef locates the scoped credential for the new generation.
	SecretRef string
	// RetireError is set when one or more superseded generations could
	// not be fully retired. The cycle still succeeded; the leftovers
	// are swept by the next successful cycle.
	RetireError error
}

// Refresh runs exactly one refresh cycle. On any error before access
// is configured the previous generation is left serving and untouched;
// the next scheduled cycle is the retry mechanism.
func (r *Refresher) Refresh(ctx context.Context) (*Result, error) {
	records, err := r.Discover(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	generation := 1
	if latest := clone.Latest(records); latest != nil {
		if err := r.checkInFlight(latest); err != nil {
			return nil, errors.Trace(err)
		}
		// Derive the next generation from the newest discovered record
		// rather than the newest configured one, so an abandoned clone
		// can never cause a name collision.
		generation = latest.Generation + 1
	}
	clusterID := clone.Name(r.config.Prefix, generation)

	logger.Infof("refreshing %q: creating generation %d as %q", r.config.SourceClusterID, generation, clusterID)
	if err := r.createClone(ctx, generation, clusterID); err != nil {
		return nil, errors.Trace(err)
	}
	info, err := r.waitAvailable(ctx, clusterID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	secretRef, err := r.configureAccess(ctx, generation, clusterID, info)
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("generation %d (%s) is current", generation, clusterID)

	result := &Result{
		Generation: generation,
		ClusterID:  clusterID,
		SecretRef:  secretRef,
	}
	if err := r.retirePrevious(ctx, generation, records); err != nil {
		logger.Warningf("retirement incomplete, will sweep next cycle: %v", err)
		result.RetireError = err
	}
	return result, nil
}

// checkInFlight is the advisory concurrency lock: if the newest
// generation is still being provisioned and is younger than the grace
// period, another cycle is assumed to be in flight and this one skips.
// An unconfigured clone older than the grace period is treated as
// abandoned and overtaken.
func (r *Refresher) checkInFlight(latest *clone.Record) error {
	if latest.Status != clone.Provisioning && latest.Status != clone.Available {
		return nil
	}
	age := r.config.Clock.Now().Sub(latest.CreatedAt)
	if age < r.config.GracePeriod {
		return errors.Annotatef(clone.CycleInFlight, "generation %d (%s) is still %s after %v", latest.Generation, latest.ClusterID, latest.Status, age.Round(time.Second))
	}
	logger.Warningf("generation %d (%s) stuck in %s for %v, treating as abandoned", latest.Generation, latest.ClusterID, latest.Status, age.Round(time.Second))
	return nil
}

func (r *Refresher) createClone(ctx context.Context, generation int, clusterID string) error {
	spec := CloneSpec{
		SourceClusterID: r.config.SourceClusterID,
		ClusterID:       clusterID,
		InstanceClass:   r.config.InstanceClass,
		SubnetGroup:     r.config.SubnetGroup,
		Tags:            r.resourceTags(generation),
	}
	if err := r.config.Clusters.Clone(ctx, spec); err != nil {
		return errors.Annotatef(clone.ProvisionFailed, "creating %q from %q: %v", clusterID, r.config.SourceClusterID, err)
	}
	return nil
}

// waitAvailable polls the new clone until the platform reports it
// available, backing off between polls and giving up once the cycle
// timeout elapses. A timed-out clone is left in place; a later cycle
// treats it as abandoned and sweeps it.
func (r *Refresher) waitAvailable(ctx context.Context, clusterID string) (*ClusterInfo, error) {
	stillProvisioning := errors.Errorf("cluster %q is still provisioning", clusterID)

	var info *ClusterInfo
	err := retry.Call(retry.CallArgs{
		Clock:       r.config.Clock,
		Delay:       r.config.PollInterval,
		BackoffFunc: retry.ExpBackoff(r.config.PollInterval, 4*r.config.PollInterval, 1.5, false),
		MaxDuration: r.config.CycleTimeout,
		Stop:        ctx.Done(),
		Func: func() error {
			var err error
			info, err = r.config.Clusters.Describe(ctx, clusterID)
			if err != nil {
				// The platform can take a moment to report a freshly
				// requested cluster, so NotFound is retried.
				return errors.Trace(err)
			}
			status, err := statusFor(*info)
			if err != nil {
				return errors.Trace(err)
			}
			switch status {
			case clone.Provisioning:
				return stillProvisioning
			case clone.Failed:
				return errors.Annotatef(clone.ProvisionFailed, "cluster %q entered status %q", clusterID, info.Status)
			case clone.Retiring:
				// Deleted out from under us, e.g. by an operator.
				return errors.Annotatef(clone.ProvisionFailed, "cluster %q is being deleted", clusterID)
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return err != stillProvisioning && !errors.IsNotFound(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("waiting for %q, attempt %d: %v", clusterID, attempt, lastError)
		},
	})
	switch {
	case err == nil:
		return info, nil
	case retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err):
		return nil, errors.Annotatef(clone.ProvisionTimeout, "cluster %q not available within %v", clusterID, r.config.CycleTimeout)
	case retry.IsRetryStopped(err):
		return nil, ctx.Err()
	}
	return nil, errors.Trace(err)
}

func (r *Refresher) resourceTags(generation int) map[string]string {
	tags := make(map[string]string, len(r.config.ExtraTags)+3)
	for k, v := range r.config.ExtraTags {
		tags[k] = v
	}
	tags[clone.TagManagedBy] = clone.ManagedByValue
	tags[clone.TagGeneration] = strconv.Itoa(generation)
	tags[clone.TagSource] = r.config.SourceClusterID
	return tags
}
