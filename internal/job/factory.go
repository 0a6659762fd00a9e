package job

import (
	"fmt"

	"distributed-compressor/internal/config"
	"distributed-compressor/internal/coord"
	"distributed-compressor/internal/lease"
	"distributed-compressor/internal/logger"
	"distributed-compressor/internal/pipeline"
	"distributed-compressor/internal/progress"
)

// FromConfig assembles a Coordinator and its progress hub on store. The
// owner token is unique to this process.
func FromConfig(cfg config.Config, store coord.Store, log *logger.Logger) (*Coordinator, *progress.Hub, error) {
	leases, err := lease.NewManager(store, cfg.LeasePrefix, cfg.LeaseTTL, cfg.LeaseRenewInterval, log)
	if err != nil {
		return nil, nil, fmt.Errorf("lease manager: %w", err)
	}
	hub := progress.NewHub(store, cfg.LogChannel, cfg.ProgressPrefix, cfg.ProgressHistory, log)
	owner := lease.NewOwner(cfg.WorkerID)
	backoff := Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax}
	return NewCoordinator(leases, pipeline.New(cfg), hub, backoff, owner, log), hub, nil
}
