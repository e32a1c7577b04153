package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moonlight-Companies/gomodbus/common"
)

func TestRTUOverTCPTransportSendReadHoldingRegisters(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	response := NewRTUResponse(3, common.FuncReadHoldingRegisters, []byte{0x02, 0x00, 0x2A})
	frame, err := response.Encode()
	require.NoError(t, err)

	serverDone := make(chan []byte, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		serverDone <- buf[:n]
		conn.Write(frame)
	}()

	addr := listener.Addr().(*net.TCPAddr)
	transport := NewRTUOverTCPTransport(addr.IP.String(), addr.Port, WithRTUOverTCPTimeout(2*time.Second))
	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Disconnect(context.Background())

	request := NewRTURequest(3, common.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})
	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00, 0x2A}, resp.GetPDU().Data)

	select {
	case sent := <-serverDone:
		requestFrame, encErr := request.Encode()
		require.NoError(t, encErr)
		assert.Equal(t, requestFrame, sent)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive request")
	}
}

func TestRTUOverTCPTransportDoubleConnect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			conn.Close()
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	transport := NewRTUOverTCPTransport(addr.IP.String(), addr.Port)
	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Disconnect(context.Background())

	err = transport.Connect(context.Background())
	assert.ErrorIs(t, err, common.ErrAlreadyConnected)
}

func TestRTUOverTCPTransportSendNotConnected(t *testing.T) {
	transport := NewRTUOverTCPTransport("127.0.0.1", 1234)
	_, err := transport.Send(context.Background(), NewRTURequest(1, common.FuncReadCoils, nil))
	assert.ErrorIs(t, err, common.ErrNotConnected)
}
