// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package clone

import "github.com/juju/errors"

const (
	// ProvisionFailed is returned when the platform rejects the
	// creation of a new clone generation. The cycle aborts; the next
	// scheduled cycle is the retry mechanism.
	ProvisionFailed = errors.ConstError("clone provisioning failed")

	// ProvisionTimeout is returned when a newly created clone does not
	// become available within the configured cycle timeout. The partial
	// clone is left in place to be swept by a later cycle.
	ProvisionTimeout = errors.ConstError("timed out waiting for clone to become available")

	// AccessConfigFailed is returned when network rules or scoped
	// credentials cannot be applied to a new generation. The previous
	// generation is left serving.
	AccessConfigFailed = errors.ConstError("clone access configuration failed")

	// RetireFailed is returned when a superseded generation cannot be
	// torn down. The new generation is already current, so the cycle
	// still succeeds; retirement is re-attempted on the next cycle.
	RetireFailed = errors.ConstError("clone retirement failed")

	// DiscoveryInconsistent is returned when the live inventory cannot
	// be mapped cleanly onto generation records, for example a cluster
	// whose generation tag disagrees with its name. Acting on such
	// drift blindly is unsafe, so the cycle aborts.
	DiscoveryInconsistent = errors.ConstError("clone inventory is inconsistent")

	// CycleInFlight is returned when a refresh is triggered while the
	// newest generation is still being provisioned within the grace
	// period. It marks a deliberate skip, not a failure.
	CycleInFlight = errors.ConstError("refresh cycle already in flight")
)
