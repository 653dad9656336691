// Package testutil starts an in-process MQTT broker for tests.
package testutil

import (
	"net"
	"strconv"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Broker is a running mochi server bound to a loopback port.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int
}

// StartBroker serves an allow-all broker on a free port and stops it when the
// test ends.
func StartBroker(t *testing.T) *Broker {
	t.Helper()
	port := FreePort(t)
	return StartBrokerOn(t, port)
}

// StartBrokerOn is StartBroker on a fixed port, used to restart a broker on
// the address clients already know.
func StartBrokerOn(t *testing.T, port int) *Broker {
	t.Helper()

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return &Broker{Server: server, Host: "127.0.0.1", Port: port}
}

// FreePort asks the kernel for an unused TCP port.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
