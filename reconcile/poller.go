/*
Copyright © 2016 Apigee Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/hashicorp/go-hclog"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// ErrMsgTmplFetchFailed is the reason template for a service registry failure
	ErrMsgTmplFetchFailed = "fetch failed: %v"
)

// ErrCycleInProgress is returned when a cycle is requested while another one is running
var ErrCycleInProgress = errors.New("a reconcile cycle is already in progress")

/*
Registry lists the services rules are derived from
*/
type Registry interface {
	FetchServices(ctx context.Context) ([]gateway.ServiceRecord, error)
}

/*
Poller runs reconcile cycles, immediately and then on a fixed interval. At most one cycle is in flight at any time.
*/
type Poller struct {
	registry   Registry
	reconciler *Reconciler
	status     *Status
	metrics    *Metrics
	extraction gateway.ExtractionConfig
	settings   gateway.GlobalSettings
	interval   time.Duration
	logger     hclog.Logger
	inFlight   atomic.Bool
}

/*
NewPoller returns a Poller for the provided configuration
*/
func NewPoller(config *gateway.Config, registry Registry, reconciler *Reconciler, status *Status, metrics *Metrics, logger hclog.Logger) *Poller {
	return &Poller{
		registry:   registry,
		reconciler: reconciler,
		status:     status,
		metrics:    metrics,
		extraction: config.ExtractionConfig(),
		settings:   config.GlobalSettings(),
		interval:   time.Duration(config.Interval) * time.Second,
		logger:     logger,
	}
}

/*
Run runs a cycle immediately and then on every interval tick until the context is done. Ticks are not skipped but a
tick never starts a cycle before the previous one has finished.
*/
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("polling for services", "interval", p.interval)

	wait.NonSlidingUntilWithContext(ctx, func(ctx context.Context) {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Warn("skipping cycle", "error", err)
		}
	}, p.interval)

	p.logger.Info("stopped polling")
}

/*
RunOnce runs a single cycle and records its outcome. It returns ErrCycleInProgress without doing anything when another
cycle is running. A started cycle runs to completion even when the context is canceled.
*/
func (p *Poller) RunOnce(ctx context.Context) (Outcome, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrCycleInProgress
	}

	defer p.inFlight.Store(false)

	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	services, err := p.registry.FetchServices(ctx)

	p.metrics.fetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// Nothing is rendered from a failed fetch, the active configuration stays in place
		outcome := errorOutcome("", ErrMsgTmplFetchFailed, err)

		p.record(outcome)

		return outcome, nil
	}

	p.logger.Debug("fetched services", "count", len(services))

	snapshot, diagnostics := gateway.Derive(services, p.extraction, p.settings)

	for _, diagnostic := range diagnostics {
		p.logger.Warn("invalid rule annotation", "service", diagnostic.Service, "port", diagnostic.Port,
			"reason", diagnostic.Reason, "detail", diagnostic.Detail)
		p.metrics.diagnostics.WithLabelValues(diagnostic.Reason).Inc()
	}

	p.metrics.observeSnapshot(snapshot)

	outcome := p.reconciler.Reconcile(ctx, snapshot, p.reconciler.Current())

	p.record(outcome)

	return outcome, nil
}

func (p *Poller) record(outcome Outcome) {
	p.status.Record(outcome)
	p.metrics.observeOutcome(outcome)

	switch outcome.Result {
	case Applied:
		p.logger.Info("configuration applied")
	case NoOp:
		p.logger.Debug("no configuration changes")
	default:
		p.logger.Error("reconcile cycle failed", "reason", outcome.Reason)
	}
}
