// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package clone

import (
	"strings"

	"github.com/juju/errors"
)

// Resource tags written to every managed resource. Discovery depends
// on them: the generation tag cross-checks the naming scheme, and the
// access-configured tag is the durable marker for cut-over having
// happened, so it must survive process restarts.
const (
	// TagManagedBy marks a resource as owned by this orchestrator.
	TagManagedBy = "dbrefresh-managed-by"
	// ManagedByValue is the value written for TagManagedBy.
	ManagedByValue = "dbrefresh"
	// TagGeneration carries the generation number of a clone resource.
	TagGeneration = "dbrefresh-generation"
	// TagSource carries the identifier of the cluster that was cloned.
	TagSource = "dbrefresh-source"
	// TagAccessConfigured is written once credentials and network
	// rules are in place. Its presence makes a generation current.
	TagAccessConfigured = "dbrefresh-access-configured"
	// TagRetiring is written when tear-down of a generation begins.
	TagRetiring = "dbrefresh-retiring"
	// TagTrue is the value written for the boolean markers above.
	TagTrue = "true"
)

// SecretName returns the name of the scoped credential secret for the
// given generation.
func SecretName(prefix string, generation int) string {
	return Name(prefix, generation) + "-credentials"
}

// GroupName returns the name of the per-generation security group.
func GroupName(prefix string, generation int) string {
	return Name(prefix, generation) + "-access"
}

// ParseGroupName extracts the generation from a security group name
// produced by GroupName, with the same error contract as ParseName.
func ParseGroupName(prefix, name string) (int, error) {
	rest, ok := strings.CutSuffix(name, "-access")
	if !ok {
		return 0, errors.NotFoundf("generation in group %q", name)
	}
	return ParseName(prefix, rest)
}
