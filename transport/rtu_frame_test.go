package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moonlight-Companies/gomodbus/common"
)

func TestRTURequestEncodeDecodeRoundTrip(t *testing.T) {
	req := NewRTURequest(17, common.FuncReadHoldingRegisters, []byte{0x00, 0x6B, 0x00, 0x03})

	data, err := req.Encode()
	require.NoError(t, err)

	// unit id + function code + 4 data bytes + CRC
	require.Len(t, data, 1+1+4+common.RTUCRCLength)
	assert.True(t, common.VerifyCRC(data))

	decoded := &RTURequest{}
	require.NoError(t, decoded.Decode(data[:len(data)-common.RTUCRCLength]))
	assert.Equal(t, common.UnitID(17), decoded.GetUnitID())
	assert.Equal(t, common.FuncReadHoldingRegisters, decoded.GetPDU().FunctionCode)
	assert.Equal(t, []byte{0x00, 0x6B, 0x00, 0x03}, decoded.GetPDU().Data)
}

func TestRTURequestTransactionIDNotTransmitted(t *testing.T) {
	req := NewRTURequest(1, common.FuncReadCoils, []byte{0x00, 0x00, 0x00, 0x08})
	req.SetTransactionID(42)

	data, err := req.Encode()
	require.NoError(t, err)

	// the wire frame is unit id + function code + data + CRC, never a
	// transaction id field
	assert.Equal(t, common.UnitID(1), common.UnitID(data[0]))
	assert.Equal(t, byte(common.FuncReadCoils), data[1])
}

func TestRTUResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := NewRTUResponse(17, common.FuncReadHoldingRegisters, []byte{0x02, 0x00, 0x0A})

	data, err := resp.Encode()
	require.NoError(t, err)
	assert.True(t, common.VerifyCRC(data))

	decoded := &RTUResponse{}
	require.NoError(t, decoded.Decode(data[:len(data)-common.RTUCRCLength]))
	assert.Equal(t, common.UnitID(17), decoded.GetUnitID())
	assert.False(t, decoded.IsException())
}

func TestRTUResponseException(t *testing.T) {
	excFunc := common.FunctionCode(byte(common.FuncReadHoldingRegisters) | common.ExceptionBit)
	resp := NewRTUResponse(1, excFunc, []byte{byte(common.ExceptionDataAddressNotAvailable)})

	assert.True(t, resp.IsException())
	assert.Equal(t, common.ExceptionDataAddressNotAvailable, resp.GetException())
	require.Error(t, resp.ToError())

	var modbusErr *common.ModbusError
	require.ErrorAs(t, resp.ToError(), &modbusErr)
	assert.Equal(t, common.ExceptionDataAddressNotAvailable, modbusErr.ExceptionCode)
}

func TestRTURequestDecodeRejectsShortFrame(t *testing.T) {
	req := &RTURequest{}
	err := req.Decode([]byte{0x01})
	assert.ErrorIs(t, err, common.ErrMalformedFrame)
}
