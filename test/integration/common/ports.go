package common

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// FreePort asks the kernel for an unused TCP port.
func FreePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
