// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notify

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
)

// LogEmitter writes events to the log instead of a message topic, for
// deployments that run without one.
type LogEmitter struct{}

// Publish implements the notifier contract.
func (LogEmitter) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("cycle event: %s", body)
	return nil
}
