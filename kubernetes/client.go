package kubernetes

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

const (
	// ErrNeedsKubeHostSet is the error used when no API host is configured and ran outside of Kubernetes
	ErrNeedsKubeHostSet = "When ran outside of Kubernetes, the " + gateway.EnvVarK8sHost + " environment variable is required"
	// ServiceAccountTokenPath is where the in-cluster bearer token is mounted
	ServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	// UserAgent identifies the manager to the API server
	UserAgent = "k8s-svc-gw-mgr"
)

// Wait bounds between retried registry requests
var (
	retryWaitMin = 250 * time.Millisecond
	retryWaitMax = 2 * time.Second
)

func retryTransport(retries int, logger hclog.Logger) func(http.RoundTripper) http.RoundTripper {
	return func(rt http.RoundTripper) http.RoundTripper {
		client := retryablehttp.NewClient()

		client.HTTPClient = &http.Client{Transport: rt}
		client.Logger = logger
		client.RetryMax = retries
		client.RetryWaitMin = retryWaitMin
		client.RetryWaitMax = retryWaitMax

		return &retryablehttp.RoundTripper{Client: client}
	}
}

/*
GetRestConfig returns the API client configuration. An explicit host is used as is (plain HTTP unless a CA file is
configured) with the optional bearer token file, otherwise the in-cluster service account is used.
*/
func GetRestConfig(config *gateway.Config, logger hclog.Logger) (*rest.Config, error) {
	var restConfig *rest.Config

	if config.K8sHost != "" {
		restConfig = &rest.Config{
			Host:            config.K8sHost,
			BearerTokenFile: config.TokenFile,
			TLSClientConfig: rest.TLSClientConfig{
				CAFile: config.CAFile,
			},
		}
	} else {
		if _, err := os.Stat(ServiceAccountTokenPath); err != nil {
			return nil, errors.New(ErrNeedsKubeHostSet)
		}

		inCluster, err := rest.InClusterConfig()

		if err != nil {
			return nil, fmt.Errorf("Failed to create in-cluster config: %w", err)
		}

		restConfig = inCluster
	}

	restConfig.Timeout = time.Duration(config.FetchTimeout) * time.Second
	restConfig.UserAgent = UserAgent

	if config.FetchRetries > 0 {
		restConfig.WrapTransport = retryTransport(config.FetchRetries, logger)
	}

	return restConfig, nil
}

/*
GetClient returns a Kubernetes client.
*/
func GetClient(config *gateway.Config, logger hclog.Logger) (kubernetes.Interface, error) {
	restConfig, err := GetRestConfig(config, logger)

	if err != nil {
		return nil, err
	}

	// Create the Kubernetes client based on the configuration
	return kubernetes.NewForConfig(restConfig)
}
