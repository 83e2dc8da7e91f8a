// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refresher

import (
	"context"
	"sort"
	"strconv"

	"github.com/juju/errors"

	"github.com/cloudacademy/dbrefresh/core/clone"
)

// Discover lists the live inventory and maps it onto generation
// records, ordered by generation descending. It is the sole source of
// cross-cycle state: a restarted orchestrator calls Discover and knows
// exactly where the previous process left off.
//
// Clusters whose identifiers fall outside the naming scheme are
// ignored. Clusters that match the scheme but contradict themselves, a
// generation tag disagreeing with the name, an unknown platform
// status, are surfaced as DiscoveryInconsistent rather than guessed
// at.
func (r *Refresher) Discover(ctx context.Context) ([]clone.Record, error) {
	infos, err := r.config.Clusters.List(ctx, r.config.Prefix)
	if err != nil {
		return nil, errors.Annotate(err, "listing clusters")
	}

	var records []clone.Record
	for _, info := range infos {
		generation, err := clone.ParseName(r.config.Prefix, info.ID)
		if err != nil {
			// A foreign cluster that happens to share the prefix.
			logger.Tracef("ignoring cluster %q outside the naming scheme", info.ID)
			continue
		}
		record, err := recordFor(generation, info)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if record.Status.Configured() {
			// The secret name is derived, so a generation that has
			// passed cut-over always has one.
			record.SecretRef = clone.SecretName(r.config.Prefix, generation)
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Generation > records[j].Generation
	})
	return records, nil
}

func recordFor(generation int, info ClusterInfo) (clone.Record, error) {
	if tagged, ok := info.Tags[clone.TagGeneration]; ok {
		if tagged != strconv.Itoa(generation) {
			return clone.Record{}, errors.Annotatef(clone.DiscoveryInconsistent, "cluster %q is named generation %d but tagged generation %q", info.ID, generation, tagged)
		}
	}

	status, err := statusFor(info)
	if err != nil {
		return clone.Record{}, errors.Trace(err)
	}

	record := clone.Record{
		Generation: generation,
		ClusterID:  info.ID,
		Status:     status,
		CreatedAt:  info.CreatedAt,
	}
	if len(info.SecurityGroups) > 0 {
		record.SecurityGroupRef = info.SecurityGroups[0]
	}
	return record, nil
}

// statusFor maps a platform status string plus the orchestrator's own
// tags onto a lifecycle status.
func statusFor(info ClusterInfo) (clone.Status, error) {
	accessConfigured := info.Tags[clone.TagAccessConfigured] == clone.TagTrue
	retiring := info.Tags[clone.TagRetiring] == clone.TagTrue

	switch info.Status {
	case "creating", "preparing-data-migration", "migrating", "rebooting", "resetting-master-credentials":
		if accessConfigured {
			return "", errors.Annotatef(clone.DiscoveryInconsistent, "cluster %q is tagged access-configured while still %q", info.ID, info.Status)
		}
		return clone.Provisioning, nil
	case "available", "backing-up", "backtracking", "maintenance", "modifying", "renaming", "upgrading":
		if retiring {
			return clone.Retiring, nil
		}
		if accessConfigured {
			return clone.AccessConfigured, nil
		}
		return clone.Available, nil
	case "deleting":
		return clone.Retiring, nil
	case "failed", "inaccessible-encryption-credentials", "incompatible-parameters", "incompatible-restore", "cloning-failed", "stopped", "stopping":
		return clone.Failed, nil
	}
	return "", errors.Annotatef(clone.DiscoveryInconsistent, "cluster %q reports unknown status %q", info.ID, info.Status)
}
