// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refresher

import (
	"context"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/cloudacademy/dbrefresh/core/clone"
)

// configureAccess provisions everything a consumer needs to reach the
// new generation: a per-generation security group converged onto the
// configured allow-list, a freshly bound administrative credential,
// and a scoped secret carrying the connection details. The final tag
// write is the cut-over: only after it does discovery consider the
// generation current, so a crash anywhere earlier leaves the previous
// generation serving.
//
// Every step converges rather than creates blindly, so re-invoking for
// the same generation is safe.
func (r *Refresher) configureAccess(ctx context.Context, generation int, clusterID string, info *ClusterInfo) (string, error) {
	fail := func(err error) (string, error) {
		return "", errors.Annotatef(clone.AccessConfigFailed, "generation %d: %v", generation, err)
	}

	tags := r.resourceTags(generation)
	groupName := clone.GroupName(r.config.Prefix, generation)
	groupRef, err := r.config.Network.EnsureGroup(ctx, groupName, tags)
	if err != nil {
		return fail(err)
	}

	current, err := r.config.Network.CurrentRules(ctx, groupRef)
	if err != nil {
		return fail(err)
	}
	toOpen, toClose := current.Diff(r.config.Rules)
	if len(toOpen) > 0 {
		logger.Debugf("opening %v on %q", toOpen, groupName)
		if err := r.config.Network.OpenRules(ctx, groupRef, toOpen); err != nil {
			return fail(err)
		}
	}
	if len(toClose) > 0 {
		logger.Debugf("closing %v on %q", toClose, groupName)
		if err := r.config.Network.CloseRules(ctx, groupRef, toClose); err != nil {
			return fail(err)
		}
	}
	if err := r.config.Clusters.SetSecurityGroups(ctx, clusterID, []string{groupRef}); err != nil {
		return fail(err)
	}

	password, err := utils.RandomPassword()
	if err != nil {
		return fail(err)
	}
	if err := r.config.Clusters.ResetMasterPassword(ctx, clusterID, password); err != nil {
		return fail(err)
	}
	secretRef, err := r.config.Secrets.Create(ctx, clone.SecretName(r.config.Prefix, generation), SecretPayload{
		Username:  info.MasterUsername,
		Password:  password,
		Host:      info.Endpoint,
		Port:      info.Port,
		ClusterID: clusterID,
	}, tags)
	if err != nil {
		return fail(err)
	}

	// Cut-over: from here on discovery reports this generation as
	// current.
	if err := r.config.Clusters.Tag(ctx, clusterID, map[string]string{
		clone.TagAccessConfigured: clone.TagTrue,
	}); err != nil {
		return fail(err)
	}
	return secretRef, nil
}

// retirePrevious tears down every generation strictly older than the
// new current one: clusters discovered this cycle, and any security
// groups or secrets orphaned by earlier partial retirements. Failures
// are collected rather than propagated eagerly so one stubborn
// resource cannot keep the rest from being swept.
func (r *Refresher) retirePrevious(ctx context.Context, current int, records []clone.Record) error {
	var failures []string

	for _, record := range records {
		if record.Generation >= current {
			continue
		}
		if err := r.retireOne(ctx, record.Generation, record.ClusterID); err != nil {
			logger.Errorf("retiring generation %d: %v", record.Generation, err)
			failures = append(failures, err.Error())
		}
	}

	if err := r.sweepOrphanedGroups(ctx, current, records); err != nil {
		logger.Errorf("sweeping orphaned groups: %v", err)
		failures = append(failures, err.Error())
	}

	if len(failures) > 0 {
		return errors.Annotatef(clone.RetireFailed, "%s", strings.Join(failures, "; "))
	}
	return nil
}

func (r *Refresher) retireOne(ctx context.Context, generation int, clusterID string) error {
	logger.Infof("retiring generation %d (%s)", generation, clusterID)

	// Best effort: the platform may refuse tag writes on a cluster
	// that is already being deleted.
	if err := r.config.Clusters.Tag(ctx, clusterID, map[string]string{
		clone.TagRetiring: clone.TagTrue,
	}); err != nil {
		logger.Debugf("tagging %q as retiring: %v", clusterID, err)
	}

	groupName := clone.GroupName(r.config.Prefix, generation)
	groupRef, err := r.config.Network.LookupGroup(ctx, groupName)
	if errors.IsNotFound(err) {
		groupRef = ""
	} else if err != nil {
		return errors.Trace(err)
	}

	// Revoke ingress before the cluster goes so the rules are never
	// left dangling, even if group deletion below cannot complete yet.
	if groupRef != "" {
		rules, err := r.config.Network.CurrentRules(ctx, groupRef)
		if err != nil {
			return errors.Trace(err)
		}
		if len(rules) > 0 {
			if err := r.config.Network.CloseRules(ctx, groupRef, rules); err != nil {
				return errors.Trace(err)
			}
		}
	}

	if err := r.config.Clusters.Delete(ctx, clusterID); err != nil {
		return errors.Trace(err)
	}
	if err := r.config.Secrets.Delete(ctx, clone.SecretName(r.config.Prefix, generation)); err != nil {
		return errors.Trace(err)
	}
	if groupRef != "" {
		// Deletion can be refused while the deleting cluster still
		// holds the group; the orphan sweep picks it up next cycle.
		if err := r.config.Network.DeleteGroup(ctx, groupRef); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// sweepOrphanedGroups removes security groups (and their generation's
// secrets) whose cluster is already gone, left behind when an earlier
// retirement failed part way.
func (r *Refresher) sweepOrphanedGroups(ctx context.Context, current int, records []clone.Record) error {
	groups, err := r.config.Network.ListGroups(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	live := set.NewInts()
	for _, record := range records {
		live.Add(record.Generation)
	}

	var failures []string
	for _, group := range groups {
		generation, err := clone.ParseGroupName(r.config.Prefix, group.Name)
		if err != nil || generation >= current || live.Contains(generation) {
			continue
		}
		logger.Infof("sweeping orphaned group %q for generation %d", group.Name, generation)
		if err := r.config.Network.DeleteGroup(ctx, group.Ref); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if err := r.config.Secrets.Delete(ctx, clone.SecretName(r.config.Prefix, generation)); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.Errorf("%s", strings.Join(failures, "; "))
	}
	return nil
}
