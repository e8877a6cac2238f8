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

package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/30x/k8s-svc-gw-mgr/gateway"
	"github.com/30x/k8s-svc-gw-mgr/reconcile"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// MetricsPath is where the Prometheus metrics are served
	MetricsPath = "/metrics"
	// ShutdownTimeout bounds how long in-flight status requests may take once the server is stopping
	ShutdownTimeout = 5 * time.Second
	// TimestampFormat is the format of last_update_ts
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

/*
Document is the status document
*/
type Document struct {
	K8sHost       string `json:"k8s_host"`
	Prefix        string `json:"prefix"`
	Interval      int    `json:"interval"`
	MgrPort       int    `json:"mgr_port"`
	URL           string `json:"url"`
	LastUpdateTs  string `json:"last_update_ts"`
	LastUpdateRes string `json:"last_update_res"`
	LastUpdateCfg string `json:"last_update_cfg"`
}

/*
NewDocument returns the status document for the configuration and the last outcome. The last_update fields are empty
until a cycle has completed.
*/
func NewDocument(config *gateway.Config, status *reconcile.Status) Document {
	doc := Document{
		K8sHost:  config.K8sHost,
		Prefix:   config.Prefix,
		Interval: config.Interval,
		MgrPort:  config.ManagerPort,
		URL:      config.ServicesURL(),
	}

	if outcome, ok := status.Last(); ok {
		doc.LastUpdateTs = outcome.Timestamp.UTC().Format(TimestampFormat)
		doc.LastUpdateRes = outcome.Message()
		doc.LastUpdateCfg = outcome.Config
	}

	return doc
}

/*
NewHandler returns the status handler. The document is served on "/" and on the manager path, which the generated
configuration proxies to the manager unchanged.
*/
func NewHandler(config *gateway.Config, status *reconcile.Status, gatherer prometheus.Gatherer, logger hclog.Logger) http.Handler {
	mux := http.NewServeMux()
	serveDocument := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != gateway.ManagerPath {
			http.NotFound(w, r)

			return
		}

		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(NewDocument(config, status)); err != nil {
			logger.Warn("failed to write the status document", "error", err)
		}
	}

	mux.HandleFunc("/", serveDocument)
	mux.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{
			InferLevels: true,
		}),
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return mux
}

/*
Serve serves the handler on the manager port until the context is done, then shuts down gracefully
*/
func Serve(ctx context.Context, port int, handler http.Handler, logger hclog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("serving status", "address", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
