package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
)

// K8s discovers peers from a Kubernetes Endpoints object: every ready
// address is one cluster.Snode, keyed by the pod name k8s assigns it and
// addressed over PortName at the address's IP. This lets the router run
// against a StatefulSet of volume-driver nodes without a separate registry
// service (SPEC_FULL §3 domain-stack wiring: k8s.io/client-go).
type K8s struct {
	Client    kubernetes.Interface
	Namespace string
	Service   string
	PortName  string
}

func (k K8s) ListPeers(ctx context.Context) ([]cluster.Snode, error) {
	ep, err := k.Client.CoreV1().Endpoints(k.Namespace).Get(ctx, k.Service, metav1.GetOptions{})
	if err != nil {
		return nil, cmn.Wrap(err, "list k8s endpoints")
	}
	var out []cluster.Snode
	for _, sub := range ep.Subsets {
		port, ok := findPort(sub.Ports, k.PortName)
		if !ok {
			continue
		}
		for _, addr := range sub.Addresses {
			id := addr.Hostname
			if id == "" && addr.TargetRef != nil {
				id = addr.TargetRef.Name
			}
			if id == "" {
				id = addr.IP
			}
			out = append(out, cluster.Snode{
				ID:  cluster.NodeId(id),
				URI: cluster.PeerUri(fmt.Sprintf("%s:%d", addr.IP, port)),
			})
		}
	}
	return out, nil
}

func findPort(ports []corev1.EndpointPort, name string) (int32, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p.Port, true
		}
	}
	return 0, false
}

var _ PeerSource = K8s{}
