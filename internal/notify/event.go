// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package notify publishes one terminal-state event per refresh cycle.
// Delivery is at least once; subscribers must tolerate duplicates.
package notify

import (
	"github.com/juju/errors"

	"github.com/cloudacademy/dbrefresh/core/clone"
)

// Outcome is the terminal state of a cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Stage names the lifecycle stage a failure occurred in.
type Stage string

const (
	StageDiscover        Stage = "discover"
	StageCreateClone     Stage = "create-clone"
	StageWaitAvailable   Stage = "wait-available"
	StageConfigureAccess Stage = "configure-access"
	StageRetirePrevious  Stage = "retire-previous"
	StageInternal        Stage = "internal"
)

// Event is the message published at the end of a cycle.
type Event struct {
	// Source identifies the cluster being refreshed.
	Source string `json:"source"`
	// Outcome is success or failure.
	Outcome Outcome `json:"outcome"`
	// Generation and ClusterID describe the new current clone on
	// success.
	Generation int    `json:"generation,omitempty"`
	ClusterID  string `json:"cluster-id,omitempty"`
	// Warning carries a non-fatal problem on an otherwise successful
	// cycle, such as a superseded generation that could not be fully
	// retired yet.
	Warning string `json:"warning,omitempty"`
	// Stage, Kind and Message describe a failure.
	Stage   Stage  `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Success builds the event for a completed cycle.
func Success(source string, generation int, clusterID string) Event {
	return Event{
		Source:     source,
		Outcome:    OutcomeSuccess,
		Generation: generation,
		ClusterID:  clusterID,
	}
}

// Failure builds the event for a failed cycle, deriving the stage and
// kind from the error. Every error kind belongs to exactly one stage,
// so the cycle error alone is enough.
func Failure(source string, err error) Event {
	event := Event{
		Source:  source,
		Outcome: OutcomeFailure,
		Stage:   StageInternal,
		Kind:    "internal",
		Message: err.Error(),
	}
	for _, m := range kindStages {
		if errors.Is(err, m.kind) {
			event.Stage = m.stage
			event.Kind = m.name
			break
		}
	}
	return event
}

var kindStages = []struct {
	kind  errors.ConstError
	name  string
	stage Stage
}{
	{clone.DiscoveryInconsistent, "discovery-inconsistent", StageDiscover},
	{clone.ProvisionFailed, "provision-failed", StageCreateClone},
	{clone.ProvisionTimeout, "provision-timeout", StageWaitAvailable},
	{clone.AccessConfigFailed, "access-config-failed", StageConfigureAccess},
	{clone.RetireFailed, "retire-failed", StageRetirePrevious},
}
