package integration

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func netPipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func writeInt32(t *testing.T, conn net.Conn, v int32) {
	t.Helper()
	_, err := conn.Write(int32Bytes(v))
	require.NoError(t, err)
}

// readTag reads one tagged, length-prefixed server message and returns
// just its tag, discarding the body.
func readTag(t *testing.T, conn net.Conn) byte {
	t.Helper()
	var tagBuf [1]byte
	_, err := io.ReadFull(conn, tagBuf[:])
	require.NoError(t, err)

	var lenBuf [4]byte
	_, err = io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	length := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, length-4)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	return tagBuf[0]
}
