package transport

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// fakeSerialPort is an io.ReadWriteCloser standing in for an opened
// serial.Port: reads come from a preloaded buffer, writes are recorded.
type fakeSerialPort struct {
	toRead  *bytes.Buffer
	written bytes.Buffer
	closed  bool
}

func newFakeSerialPort(toRead []byte) *fakeSerialPort {
	return &fakeSerialPort{toRead: bytes.NewBuffer(toRead)}
}

func (f *fakeSerialPort) Read(p []byte) (int, error)  { return f.toRead.Read(p) }
func (f *fakeSerialPort) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeSerialPort) Close() error                { f.closed = true; return nil }

func connectedRTUTransport(port io.ReadWriteCloser) *RTUTransport {
	transport := NewRTUTransport("/dev/ttyTEST", 19200)
	transport.port = port
	transport.connected = true
	return transport
}

func TestRTUTransportSendReadHoldingRegisters(t *testing.T) {
	// Unit 17, function 0x03, byte count 4, two registers, CRC.
	response := NewRTUResponse(17, common.FuncReadHoldingRegisters, []byte{0x04, 0x00, 0x0A, 0x00, 0x0B})
	frame, err := response.Encode()
	require.NoError(t, err)

	port := newFakeSerialPort(frame)
	transport := connectedRTUTransport(port)

	request := NewRTURequest(17, common.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x02})
	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, common.UnitID(17), resp.GetUnitID())
	assert.Equal(t, []byte{0x04, 0x00, 0x0A, 0x00, 0x0B}, resp.GetPDU().Data)

	requestFrame, err := request.Encode()
	require.NoError(t, err)
	assert.Equal(t, requestFrame, port.written.Bytes())
}

func TestRTUTransportSendWriteSingleRegisterFixedLength(t *testing.T) {
	response := NewRTUResponse(5, common.FuncWriteSingleRegister, []byte{0x00, 0x10, 0x00, 0x42})
	frame, err := response.Encode()
	require.NoError(t, err)

	transport := connectedRTUTransport(newFakeSerialPort(frame))
	request := NewRTURequest(5, common.FuncWriteSingleRegister, []byte{0x00, 0x10, 0x00, 0x42})

	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x10, 0x00, 0x42}, resp.GetPDU().Data)
}

func TestRTUTransportSendException(t *testing.T) {
	excFunc := common.FunctionCode(byte(common.FuncReadHoldingRegisters) | common.ExceptionBit)
	response := NewRTUResponse(9, excFunc, []byte{byte(common.ExceptionDataAddressNotAvailable)})
	frame, err := response.Encode()
	require.NoError(t, err)

	transport := connectedRTUTransport(newFakeSerialPort(frame))
	request := NewRTURequest(9, common.FuncReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})

	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	assert.True(t, resp.IsException())
	assert.Equal(t, common.ExceptionDataAddressNotAvailable, resp.GetException())
}

func TestRTUTransportSendBroadcastHasNoResponse(t *testing.T) {
	transport := connectedRTUTransport(newFakeSerialPort(nil))
	request := NewRTURequest(0, common.FuncWriteSingleCoil, []byte{0x00, 0x01, 0xFF, 0x00})

	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRTUTransportSendDetectsCorruptCRC(t *testing.T) {
	response := NewRTUResponse(1, common.FuncReadCoils, []byte{0x01, 0xFF})
	frame, err := response.Encode()
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC

	transport := connectedRTUTransport(newFakeSerialPort(frame))
	request := NewRTURequest(1, common.FuncReadCoils, []byte{0x00, 0x00, 0x00, 0x08})

	_, err = transport.Send(context.Background(), request)
	assert.ErrorIs(t, err, common.ErrMalformedFrame)
}

func TestRTUTransportSendNotConnected(t *testing.T) {
	transport := NewRTUTransport("/dev/ttyTEST", 19200)
	_, err := transport.Send(context.Background(), NewRTURequest(1, common.FuncReadCoils, nil))
	assert.ErrorIs(t, err, common.ErrNotConnected)
}

func TestRTUTransportReadDeviceIdentification(t *testing.T) {
	// MEI type, code, conformity, more follows, next object id, object count,
	// then one object: id 0x00, length 5, "gomod".
	data := []byte{
		byte(common.MEIReadDeviceID), 0x01, 0x01, 0x00, 0x00, 0x01,
		0x00, 0x05, 'g', 'o', 'm', 'o', 'd',
	}
	response := NewRTUResponse(2, common.FuncReadDeviceIdentification, data)
	frame, err := response.Encode()
	require.NoError(t, err)

	transport := connectedRTUTransport(newFakeSerialPort(frame))
	request := NewRTURequest(2, common.FuncReadDeviceIdentification, []byte{byte(common.MEIReadDeviceID), 0x01, 0x00})

	resp, err := transport.Send(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, data, resp.GetPDU().Data)
}
