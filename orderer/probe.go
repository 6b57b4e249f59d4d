// Package orderer checks which ordering service endpoints are reachable.
package orderer

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ddr4869/fabctl/common/cert"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/topology"
)

// Endpoint is an ordering service as named inside the network and the
// address it is dialed at from here.
type Endpoint struct {
	// Name is {orderer role-domain}:7050, as passed to peer commands.
	Name string
	Dial string
}

// Endpoints lists the orderers of r. They are dialed at their host address
// because role-domains only resolve inside the network.
func Endpoints(r *topology.Registry) ([]Endpoint, error) {
	orderers, err := r.ElementsFor(types.RoleOrderer)
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, 0, len(orderers))
	for _, e := range orderers {
		port := strconv.Itoa(topology.OrdererPort)
		out = append(out, Endpoint{
			Name: net.JoinHostPort(e.RoleDomain, port),
			Dial: net.JoinHostPort(e.Address, port),
		})
	}
	return out, nil
}

// ProbeOptions configures a Prober.
type ProbeOptions struct {
	Timeout time.Duration
	// TLSCAFile enables TLS verified against this CA; empty probes in plaintext.
	TLSCAFile string
}

// Prober tests gRPC connectivity to ordering endpoints.
type Prober struct {
	timeout time.Duration
	caFile  string
}

func NewProber(opts ProbeOptions) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Prober{timeout: opts.Timeout, caFile: opts.TLSCAFile}
}

func (p *Prober) credentials(serverName string) (credentials.TransportCredentials, error) {
	if p.caFile == "" {
		return insecure.NewCredentials(), nil
	}
	pool, err := cert.LoadCertPool(p.caFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load orderer TLS CA %s", p.caFile)
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, ServerName: serverName, MinVersion: tls.VersionTLS12}), nil
}

// Probe reports whether a gRPC connection to ep becomes ready in time.
func (p *Prober) Probe(ctx context.Context, ep Endpoint) error {
	host, _, err := net.SplitHostPort(ep.Name)
	if err != nil {
		return errors.Wrapf(err, "invalid orderer endpoint %s", ep.Name)
	}
	creds, err := p.credentials(host)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(ep.Dial, grpc.WithTransportCredentials(creds))
	if err != nil {
		return errors.Wrapf(err, "failed to create client for %s", ep.Dial)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.Errorf("connection to %s shut down", ep.Dial)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return errors.Wrapf(ctx.Err(), "orderer %s (%s) not ready, last state %s", ep.Name, ep.Dial, state)
		}
	}
}

// Select returns the name of the first endpoint that answers.
func (p *Prober) Select(ctx context.Context, endpoints []Endpoint) (string, error) {
	if len(endpoints) == 0 {
		return "", errdefs.TopologyNotFound("there are no optional orderer services")
	}
	for _, ep := range endpoints {
		if err := p.Probe(ctx, ep); err != nil {
			logger.Warnf("[Orderer] %s is unavailable: %v", ep.Name, err)
			continue
		}
		logger.Infof("[Orderer] using %s", ep.Name)
		return ep.Name, nil
	}
	return "", errdefs.Topology("no live orderer among %d endpoint(s)", len(endpoints))
}
