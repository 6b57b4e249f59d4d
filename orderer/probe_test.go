package orderer

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/ddr4869/fabctl/common/cert/certtest"
	"github.com/ddr4869/fabctl/common/errdefs"
	"github.com/ddr4869/fabctl/common/types"
	"github.com/ddr4869/fabctl/topology"
)

func startServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func startTLSServer(t *testing.T, serverName string) (string, *certtest.Authority) {
	t.Helper()
	ca, err := certtest.NewAuthority("example.com")
	require.NoError(t, err)
	leaf, err := ca.Issue(serverName, serverName)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(grpc.Creds(credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{leaf}})))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String(), ca
}

func writeCA(t *testing.T, ca *certtest.Authority) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tlsca.pem")
	require.NoError(t, os.WriteFile(path, ca.PEM(), 0644))
	return path
}

func closedAddress(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestProbe(t *testing.T) {
	p := NewProber(ProbeOptions{Timeout: 2 * time.Second})

	live := Endpoint{Name: "orderer0.example.com:7050", Dial: startServer(t)}
	assert.NoError(t, p.Probe(context.Background(), live))

	p = NewProber(ProbeOptions{Timeout: 300 * time.Millisecond})
	dead := Endpoint{Name: "orderer1.example.com:7050", Dial: closedAddress(t)}
	assert.Error(t, p.Probe(context.Background(), dead))
}

func TestSelectSkipsUnavailable(t *testing.T) {
	p := NewProber(ProbeOptions{Timeout: 300 * time.Millisecond})
	endpoints := []Endpoint{
		{Name: "orderer0.example.com:7050", Dial: closedAddress(t)},
		{Name: "orderer1.example.com:7050", Dial: startServer(t)},
	}

	name, err := p.Select(context.Background(), endpoints)
	require.NoError(t, err)
	assert.Equal(t, "orderer1.example.com:7050", name)

	_, err = p.Select(context.Background(), endpoints[:1])
	assert.True(t, errdefs.IsTopology(err))

	_, err = p.Select(context.Background(), nil)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestProbeRejectsMissingCA(t *testing.T) {
	p := NewProber(ProbeOptions{TLSCAFile: "/nonexistent/ca.pem"})
	err := p.Probe(context.Background(), Endpoint{Name: "orderer0.example.com:7050", Dial: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "failed to load orderer TLS CA")
}

func TestProbeTLS(t *testing.T) {
	addr, ca := startTLSServer(t, "orderer0.example.com")
	ep := Endpoint{Name: "orderer0.example.com:7050", Dial: addr}

	p := NewProber(ProbeOptions{Timeout: 2 * time.Second, TLSCAFile: writeCA(t, ca)})
	assert.NoError(t, p.Probe(context.Background(), ep))

	other, err := certtest.NewAuthority("other.com")
	require.NoError(t, err)
	p = NewProber(ProbeOptions{Timeout: 300 * time.Millisecond, TLSCAFile: writeCA(t, other)})
	assert.Error(t, p.Probe(context.Background(), ep))
}

func TestEndpoints(t *testing.T) {
	r := topology.NewRegistry(topology.Layout{Domain: "example.com"})
	require.NoError(t, r.AddHost(&types.Host{Address: "10.0.0.1", ID: "h1", User: "u", Password: "p"}))
	require.NoError(t, r.AddHost(&types.Host{Address: "10.0.0.2", ID: "h2", User: "u", Password: "p"}))
	_, err := r.Assign(types.RoleOrderer, "", "example.com", "0", "h1")
	require.NoError(t, err)
	_, err = r.Assign(types.RoleOrderer, "", "example.com", "1", "h2")
	require.NoError(t, err)

	eps, err := Endpoints(r)
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{
		{Name: "orderer0.example.com:7050", Dial: "10.0.0.1:7050"},
		{Name: "orderer1.example.com:7050", Dial: "10.0.0.2:7050"},
	}, eps)
}
