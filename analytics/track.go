// Package analytics creates the tracker that reports relay runs.
package analytics

import (
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker with properties attached to every event.
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	InstanceIDEnvKey = "INSTANCE_ID"
	InstanceID       = "instance_id"
	SourceProvider   = "source_provider"
)

// NewRelayTracker tags every event with the instance and the source provider.
// The instance ID falls back to the host name.
func NewRelayTracker(repository env.Repository, sourceProvider string, logger log.Logger, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	instanceID := repository.Get(InstanceIDEnvKey)
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			return nil, fmt.Errorf("no instance ID found: %v", err)
		}
		instanceID = hostname
	}

	return trackerFactory(logger, analytics.Properties{
		InstanceID:     instanceID,
		SourceProvider: sourceProvider,
	}), nil
}

// NewDefaultRelayTracker ...
func NewDefaultRelayTracker(repository env.Repository, sourceProvider string, logger log.Logger) (analytics.Tracker, error) {
	return NewRelayTracker(repository, sourceProvider, logger, analytics.NewDefaultTracker)
}
