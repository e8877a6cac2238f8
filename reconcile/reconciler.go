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
	"fmt"
	"time"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/hashicorp/go-hclog"
)

const (
	// ErrMsgTmplRenderFailed is the reason template for a render failure
	ErrMsgTmplRenderFailed = "render failed: %v"
	// ErrMsgTmplWriteFailed is the reason template for a configuration write failure
	ErrMsgTmplWriteFailed = "write failed: %v"
	// ErrMsgTmplReloadFailed is the reason template for a reload failure
	ErrMsgTmplReloadFailed = "reload failed: %v"
)

/*
Renderer turns a snapshot into configuration text
*/
type Renderer interface {
	Render(snapshot *gateway.Snapshot) (string, error)
}

/*
ConfigStore is the persisted configuration
*/
type ConfigStore interface {
	Read() (string, error)
	Write(conf string) error
}

/*
Reloader makes the proxy pick up the persisted configuration
*/
type Reloader interface {
	Reload(ctx context.Context) error
}

func errorOutcome(conf, tmpl string, err error) Outcome {
	return Outcome{
		Timestamp: time.Now(),
		Result:    Error,
		Reason:    fmt.Sprintf(tmpl, err),
		Config:    conf,
	}
}

/*
Reconciler applies rendered configuration when it differs from the active configuration
*/
type Reconciler struct {
	renderer Renderer
	store    ConfigStore
	reloader Reloader
	logger   hclog.Logger
}

/*
NewReconciler returns a Reconciler using the provided collaborators
*/
func NewReconciler(renderer Renderer, store ConfigStore, reloader Reloader, logger hclog.Logger) *Reconciler {
	return &Reconciler{
		renderer: renderer,
		store:    store,
		reloader: reloader,
		logger:   logger,
	}
}

/*
Current returns the active configuration text. A read failure is logged and treated as no configuration, which makes
the next reconcile rewrite the file.
*/
func (r *Reconciler) Current() string {
	current, err := r.store.Read()

	if err != nil {
		r.logger.Warn("failed to read the active configuration", "error", err)

		return ""
	}

	return current
}

/*
Reconcile renders the snapshot and, when the text differs from the current text, writes it and reloads. The steps
always run in that order and a failed step stops the sequence. A reload failure leaves the new configuration on disk.
*/
func (r *Reconciler) Reconcile(ctx context.Context, snapshot *gateway.Snapshot, current string) Outcome {
	conf, err := r.renderer.Render(snapshot)

	if err != nil {
		return errorOutcome("", ErrMsgTmplRenderFailed, err)
	}

	if conf == current {
		r.logger.Debug("configuration is unchanged")

		return Outcome{
			Timestamp: time.Now(),
			Result:    NoOp,
			Config:    conf,
		}
	}

	if err := r.store.Write(conf); err != nil {
		return errorOutcome(conf, ErrMsgTmplWriteFailed, err)
	}

	r.logger.Debug("configuration written, reloading")

	if err := r.reloader.Reload(ctx); err != nil {
		return errorOutcome(conf, ErrMsgTmplReloadFailed, err)
	}

	return Outcome{
		Timestamp: time.Now(),
		Result:    Applied,
		Config:    conf,
	}
}
