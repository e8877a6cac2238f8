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

package kubernetes

import (
	"context"
	"fmt"
	"sort"

	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/hashicorp/go-hclog"
	api "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

/*
ServiceRegistry lists the services rules are derived from
*/
type ServiceRegistry struct {
	client    kubernetes.Interface
	namespace string
	selector  labels.Selector
	logger    hclog.Logger
}

/*
NewServiceRegistry returns a registry listing the services in the configured namespace matching the configured label
selector
*/
func NewServiceRegistry(client kubernetes.Interface, config *gateway.Config, logger hclog.Logger) *ServiceRegistry {
	selector := config.LabelSelector

	if selector == nil {
		selector = labels.Everything()
	}

	return &ServiceRegistry{
		client:    client,
		namespace: config.Namespace,
		selector:  selector,
		logger:    logger,
	}
}

/*
ToServiceRecord converts a service, services without a cluster address (headless or external name services) cannot be
proxied to and are not routable
*/
func ToServiceRecord(service *api.Service) (gateway.ServiceRecord, bool) {
	if service.Spec.ClusterIP == "" || service.Spec.ClusterIP == api.ClusterIPNone {
		return gateway.ServiceRecord{}, false
	}

	ports := make([]int32, 0, len(service.Spec.Ports))

	for _, port := range service.Spec.Ports {
		ports = append(ports, port.Port)
	}

	return gateway.ServiceRecord{
		Name:        service.Name,
		Namespace:   service.Namespace,
		Address:     service.Spec.ClusterIP,
		Ports:       ports,
		Annotations: service.Annotations,
	}, true
}

/*
FetchServices returns the routable services ordered by namespace and name
*/
func (r *ServiceRegistry) FetchServices(ctx context.Context) ([]gateway.ServiceRecord, error) {
	serviceList, err := r.client.CoreV1().Services(r.namespace).List(ctx, meta.ListOptions{
		LabelSelector: r.selector.String(),
	})

	if err != nil {
		return nil, fmt.Errorf("Failed to list services: %w", err)
	}

	sort.Slice(serviceList.Items, func(i, j int) bool {
		a, b := serviceList.Items[i], serviceList.Items[j]

		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}

		return a.Name < b.Name
	})

	records := make([]gateway.ServiceRecord, 0, len(serviceList.Items))

	for i := range serviceList.Items {
		service := &serviceList.Items[i]
		record, ok := ToServiceRecord(service)

		if !ok {
			r.logger.Trace("service is not routable: no cluster address", "service", service.Name, "namespace", service.Namespace)

			continue
		}

		records = append(records, record)
	}

	return records, nil
}
