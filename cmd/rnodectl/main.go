// Command rnodectl is the router daemon: it loads a Config, builds one
// ha.Context per configured volume, and serves /healthz and /stats until
// terminated. It is intentionally not a CLI in the teacher's cmd/cli sense
// (SPEC_FULL's CLI non-goal) — just the long-running process an operator
// deploys, wiring the ambient and domain stacks together.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/ovs-cluster/voldriver-router/cluster"
	"github.com/ovs-cluster/voldriver-router/cmn"
	"github.com/ovs-cluster/voldriver-router/cmn/nlog"
	"github.com/ovs-cluster/voldriver-router/discovery"
	"github.com/ovs-cluster/voldriver-router/ha"
	"github.com/ovs-cluster/voldriver-router/httpstats"
	"github.com/ovs-cluster/voldriver-router/transport/nettransport"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to a JSON config file; flags below override it")
		statsAddr    = flag.String("stats-addr", ":9090", "address for the /healthz and /stats endpoints")
		initialPeer  = flag.String("peer", "", "node_id=uri of the initial peer, e.g. n1=10.0.0.1:9000")
		volumeName   = flag.String("volume", "vol0", "volume name this process routes for")
		k8sService   = flag.String("k8s-service", "", "if set, discover peers from this Kubernetes Endpoints object instead of -peer")
		k8sNamespace = flag.String("k8s-namespace", "default", "namespace of -k8s-service")
		k8sPortName  = flag.String("k8s-port-name", "rnode", "named port on -k8s-service's Endpoints")
	)
	flag.Parse()

	cfg := cmn.DefaultConfig()
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			nlog.Errorf("rnodectl: read config: %v", err)
			os.Exit(1)
		}
		cfg, err = cmn.LoadConfig(b)
		if err != nil {
			nlog.Errorf("rnodectl: parse config: %v", err)
			os.Exit(1)
		}
	}
	cmn.GCO.Put(cfg)

	node, ok := parsePeer(*initialPeer)
	if !ok && *k8sService == "" {
		nlog.Errorf("rnodectl: one of -peer or -k8s-service is required")
		os.Exit(1)
	}

	source, err := buildPeerSource(*k8sService, *k8sNamespace, *k8sPortName, node)
	if err != nil {
		nlog.Errorf("rnodectl: %v", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	h, err := ha.Open(*volumeName, cfg, nettransport.DialContext, source, reg)
	if err != nil {
		nlog.Errorf("rnodectl: open ha context: %v", err)
		os.Exit(1)
	}
	defer h.Close()

	if node.ID != "" {
		if err := h.OpenVolume(*volumeName, node); err != nil {
			nlog.Errorf("rnodectl: open volume %s: %v", *volumeName, err)
			os.Exit(1)
		}
	}

	srv := httpstats.New(*statsAddr, h)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			nlog.Warnf("rnodectl: httpstats stopped: %v", err)
		}
	}()

	nlog.Infof("rnodectl: routing volume %q, stats on %s", *volumeName, *statsAddr)
	waitForSignal()

	nlog.Infof("rnodectl: shutting down")
	_ = srv.Close()
}

func parsePeer(spec string) (cluster.Snode, bool) {
	id, uri, found := strings.Cut(spec, "=")
	if !found || id == "" || uri == "" {
		return cluster.Snode{}, false
	}
	return cluster.Snode{ID: cluster.NodeId(id), URI: cluster.PeerUri(uri)}, true
}

func buildPeerSource(service, namespace, portName string, seed cluster.Snode) (discovery.PeerSource, error) {
	if service == "" {
		peers := []cluster.Snode{}
		if seed.ID != "" {
			peers = append(peers, seed)
		}
		return discovery.Static{Peers: peers}, nil
	}
	kcfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, cmn.Wrap(err, "load in-cluster kubeconfig")
	}
	client, err := kubernetes.NewForConfig(kcfg)
	if err != nil {
		return nil, cmn.Wrap(err, "build kubernetes client")
	}
	return discovery.K8s{Client: client, Namespace: namespace, Service: service, PortName: portName}, nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
