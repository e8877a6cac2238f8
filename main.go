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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/30x/k8s-svc-gw-mgr/gateway"
	"github.com/30x/k8s-svc-gw-mgr/kubernetes"
	"github.com/30x/k8s-svc-gw-mgr/nginx"
	"github.com/30x/k8s-svc-gw-mgr/reconcile"
	"github.com/30x/k8s-svc-gw-mgr/status"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func fatal(logger hclog.Logger, msg string, args ...interface{}) {
	logger.Error(msg, args...)
	os.Exit(1)
}

func logConfig(logger hclog.Logger, config *gateway.Config) {
	// Print the configuration
	logger.Info("using configuration",
		"k8s_host", config.K8sHost,
		"services_url", config.ServicesURL(),
		"namespace", config.Namespace,
		"label_selector", config.LabelSelector.String(),
		"prefix", config.Prefix,
		"interval", config.Interval,
		"mgr_port", config.ManagerPort,
		"conf_path", config.ConfPath,
		"template", config.TemplatePath,
		"reload_cmd", config.ReloadCommand,
		"path_port", config.PathPort,
		"host_port", config.HostPort,
		"tls_port", config.TLSPort,
		"ssl", config.SSL,
		"default_cidrs", config.DefaultCIDRs,
	)
}

/*
Simple Go application that keeps an nginx configuration in sync with the routing annotations of Kubernetes services.
Services are listed on an interval, the derived configuration is written and nginx reloaded whenever it changes.

This application is written to run inside the Kubernetes cluster but for outside of Kubernetes you can set the
`SVC_GW_K8S_API_HOST` environment variable (or the --host flag) to point at an API server.
*/
func main() {
	fs := gateway.NewFlagSet(os.Args[0])

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}

		os.Exit(2)
	}

	// Get the configuration
	config, err := gateway.ConfigFromFlags(fs, os.Getenv)

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "svc-gw-mgr",
		Level: hclog.LevelFromString(gateway.DefaultLogLevel),
	})

	if err != nil {
		fatal(logger, "invalid configuration", "error", err)
	}

	logger.SetLevel(hclog.LevelFromString(config.LogLevel))
	logger.Info("starting the service gateway manager")
	logConfig(logger, config)

	renderer := nginx.DefaultRenderer()

	if config.TemplatePath != "" {
		renderer, err = nginx.NewRendererFromFile(config.TemplatePath)

		if err != nil {
			fatal(logger, "invalid template", "error", err)
		}
	}

	// Create the Kubernetes Client
	registryLogger := logger.Named("registry")
	kubeClient, err := kubernetes.GetClient(config, registryLogger)

	if err != nil {
		fatal(logger, "failed to create client", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	outcomes := &reconcile.Status{}
	reconciler := reconcile.NewReconciler(
		renderer,
		&nginx.ConfFile{Path: config.ConfPath},
		&nginx.ShellReloader{Command: config.ReloadCommand},
		logger.Named("reconciler"),
	)
	poller := reconcile.NewPoller(
		config,
		kubernetes.NewServiceRegistry(kubeClient, config, registryLogger),
		reconciler,
		outcomes,
		reconcile.NewMetrics(registry),
		logger.Named("poller"),
	)
	statusLogger := logger.Named("status")
	handler := status.NewHandler(config, outcomes, registry, statusLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		poller.Run(ctx)

		return nil
	})

	g.Go(func() error {
		return status.Serve(ctx, config.ManagerPort, handler, statusLogger)
	})

	if err := g.Wait(); err != nil {
		stop()
		fatal(logger, "status server failed", "error", err)
	}

	logger.Info("stopped")
}
