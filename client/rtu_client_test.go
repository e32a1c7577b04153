package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/common/test"
	"github.com/Moonlight-Companies/gomodbus/transport"
)

func TestRTURequestFactoryBuildsRTUFramedRequests(t *testing.T) {
	req := rtuRequestFactory(7, common.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})

	rtuReq, ok := req.(*transport.RTURequest)
	require.True(t, ok, "expected *transport.RTURequest, got %T", req)
	assert.Equal(t, common.UnitID(7), rtuReq.GetUnitID())
}

func TestBaseClientWithRTURequestFactorySendsRTUFramedRequest(t *testing.T) {
	mockTransport := test.NewMockTransport()
	require.NoError(t, mockTransport.Connect(context.Background()))
	mockTransport.QueueResponse(transport.NewRTUResponse(9, common.FuncReadHoldingRegisters, []byte{0x02, 0x00, 0x07}))

	c := NewBaseClient(mockTransport, WithUnitID(9), WithRequestFactory(rtuRequestFactory))

	values, err := c.ReadHoldingRegisters(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []common.RegisterValue{7}, values)

	sent := mockTransport.GetRequests()
	require.Len(t, sent, 1)
	_, ok := sent[0].(*transport.RTURequest)
	assert.True(t, ok, "expected the client to build an RTU-framed request")
}

func TestNewRTUClientDefaultsToRTUFraming(t *testing.T) {
	c := NewRTUClient("/dev/ttyUSB0", 19200)
	req := c.requestFactory(1, common.FuncReadCoils, nil)
	_, ok := req.(*transport.RTURequest)
	assert.True(t, ok)
}

func TestNewRTUOverTCPClientDefaultsToRTUFraming(t *testing.T) {
	c := NewRTUOverTCPClient("127.0.0.1", 5020)
	req := c.requestFactory(1, common.FuncReadCoils, nil)
	_, ok := req.(*transport.RTURequest)
	assert.True(t, ok)
}
