package task

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically removes terminal tasks older than the retention window
type Janitor struct {
	cron      *cron.Cron
	registry  *Registry
	retention time.Duration
	spec      string // cron spec, e.g. "@every 10m"
}

// NewJanitor creates a janitor sweeping every interval, removing terminal
// tasks completed longer than retention ago.
func NewJanitor(registry *Registry, interval, retention time.Duration) *Janitor {
	return &Janitor{
		cron:      cron.New(),
		registry:  registry,
		retention: retention,
		spec:      fmt.Sprintf("@every %s", interval),
	}
}

// Start registers the sweep job and starts the scheduler
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.spec, func() {
		removed := j.registry.Sweep(j.retention)
		if removed > 0 {
			log.Printf("[janitor] Swept %d expired task(s)", removed)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	j.cron.Start()
	log.Printf("[janitor] Started — spec: %s, retention: %s", j.spec, j.retention)
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
