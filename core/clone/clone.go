// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package clone holds the core model for refreshed database clones:
// generation records, their lifecycle statuses, and the deterministic
// naming scheme used to rediscover them from live infrastructure.
package clone

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Status describes where a clone generation is in its lifecycle. The
// status of a live generation is always inferred from the platform
// inventory, never from process-local state.
type Status string

const (
	// Provisioning means the clone has been requested but is not yet
	// usable.
	Provisioning Status = "provisioning"
	// Available means the underlying cluster is up but access has not
	// been configured, so consumers must not treat it as current.
	Available Status = "available"
	// AccessConfigured means credentials and network rules are in
	// place. This is the gate for a generation becoming current.
	AccessConfigured Status = "access-configured"
	// Retiring means tear-down of a superseded generation has begun.
	Retiring Status = "retiring"
	// Retired means the generation's resources are gone.
	Retired Status = "retired"
	// Failed means the platform reports the generation unusable.
	Failed Status = "failed"
)

// Configured reports whether the status is at or past the cut-over
// gate, i.e. whether a generation in this status can be current.
func (s Status) Configured() bool {
	return s == AccessConfigured || s == Retiring
}

// Record is one generation of the refreshed clone as inferred from the
// live inventory.
type Record struct {
	// Generation is the monotonic sequence number of this clone.
	Generation int
	// ClusterID is the externally visible cluster identifier,
	// deterministically derived from the generation.
	ClusterID string
	// Status is the inferred lifecycle status.
	Status Status
	// CreatedAt is the platform creation time of the cluster.
	CreatedAt time.Time
	// SecretRef locates the scoped credential for this generation, if
	// one has been provisioned.
	SecretRef string
	// SecurityGroupRef locates the per-generation security group, if
	// one has been provisioned.
	SecurityGroupRef string
}

// GoString implements fmt.GoStringer so that records read usefully in
// logs and test failures.
func (r Record) GoString() string {
	return fmt.Sprintf("clone.Record{%d %q %s}", r.Generation, r.ClusterID, r.Status)
}

// Name returns the cluster identifier for the given generation under
// the given prefix. Name and ParseName form a bijection.
func Name(prefix string, generation int) string {
	return fmt.Sprintf("%s-%d", prefix, generation)
}

// ParseName extracts the generation from a cluster identifier produced
// by Name. Identifiers outside the scheme, including ones that share
// the prefix but do not carry a well-formed generation suffix, yield a
// NotFound error so that discovery can skip foreign resources.
func ParseName(prefix, name string) (int, error) {
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return 0, errors.NotFoundf("generation in %q", name)
	}
	generation, err := strconv.Atoi(rest)
	if err != nil || generation < 1 || strings.HasPrefix(rest, "0") {
		// A leading zero would break the name/generation bijection.
		return 0, errors.NotFoundf("generation in %q", name)
	}
	return generation, nil
}

// Latest returns the record with the highest generation, or nil if
// there are none. Records must be sorted by generation descending, as
// returned by discovery.
func Latest(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	return &records[0]
}

// Current returns the newest record that has passed the cut-over gate,
// or nil if no generation is current. Records must be sorted by
// generation descending.
func Current(records []Record) *Record {
	for i := range records {
		if records[i].Status.Configured() {
			return &records[i]
		}
	}
	return nil
}
