package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/logging"
)

// RTUTransport implements common.Transport over a serial line using RTU
// framing. Unlike TCPTransport, RTU is half-duplex and carries no
// transaction id on the wire, so only one request may be outstanding at a
// time; Send serializes callers behind a mutex instead of multiplexing
// through a transaction pool.
// Ref: MODBUS over Serial Line V1.02, Section 2.5.1 (RTU Transmission Mode)
type RTUTransport struct {
	logger common.LoggerInterface

	device   string
	baudRate int
	dataBits int
	parity   string
	stopBits int
	timeout  time.Duration

	mu        sync.Mutex // serializes Send calls (half-duplex line)
	connMu    sync.Mutex // guards connected/port state
	port      io.ReadWriteCloser
	connected bool
	closeOnce sync.Once

	rs485 *RS485Config
}

// RS485Config requests RS-485 direction-control semantics on platforms
// that support it (see rs485_linux.go).
type RS485Config struct {
	Enabled       bool
	RTSDelayUs    int
	RTSOnSend     bool
}

// RTUTransportOption configures an RTUTransport.
type RTUTransportOption func(*RTUTransport)

// WithRTUDataBits sets the serial data bits (default 8).
func WithRTUDataBits(bits int) RTUTransportOption {
	return func(t *RTUTransport) { t.dataBits = bits }
}

// WithRTUParity sets the serial parity ("N", "E", or "O"; default "N").
func WithRTUParity(parity string) RTUTransportOption {
	return func(t *RTUTransport) { t.parity = parity }
}

// WithRTUStopBits sets the serial stop bits (default 1).
func WithRTUStopBits(bits int) RTUTransportOption {
	return func(t *RTUTransport) { t.stopBits = bits }
}

// WithRTUTimeout sets the per-request read timeout.
func WithRTUTimeout(timeout time.Duration) RTUTransportOption {
	return func(t *RTUTransport) { t.timeout = timeout }
}

// WithRTULogger sets the logger used by the transport.
func WithRTULogger(logger common.LoggerInterface) RTUTransportOption {
	return func(t *RTUTransport) { t.logger = logger }
}

// WithRS485 enables RS-485 direction control on the underlying serial
// port, where supported by the platform.
func WithRS485(cfg RS485Config) RTUTransportOption {
	return func(t *RTUTransport) { t.rs485 = &cfg }
}

// NewRTUTransport creates a transport bound to a serial device path, e.g.
// "/dev/ttyUSB0" or "COM3".
func NewRTUTransport(device string, baudRate int, options ...RTUTransportOption) *RTUTransport {
	t := &RTUTransport{
		logger:   logging.NewLogger(),
		device:   device,
		baudRate: baudRate,
		dataBits: 8,
		parity:   "N",
		stopBits: 1,
		timeout:  1 * time.Second,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// WithLogger sets the logger for the transport and returns the modified transport.
func (t *RTUTransport) WithLogger(logger common.LoggerInterface) common.Transport {
	t.logger = logger
	return t
}

// Connect opens the serial port.
func (t *RTUTransport) Connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.connected {
		return common.ErrAlreadyConnected
	}

	t.logger.Info(ctx, "Opening serial port %s at %d baud", t.device, t.baudRate)

	cfg := &serial.Config{
		Address:  t.device,
		BaudRate: t.baudRate,
		DataBits: t.dataBits,
		Parity:   t.parity,
		StopBits: t.stopBits,
		Timeout:  t.timeout,
	}

	port, err := serial.Open(cfg)
	if err != nil {
		t.logger.Error(ctx, "Failed to open serial port %s: %v", t.device, err)
		return fmt.Errorf("open serial port %s: %w", t.device, err)
	}

	if t.rs485 != nil && t.rs485.Enabled {
		if err := EnableRS485(port, *t.rs485); err != nil {
			t.logger.Warn(ctx, "RS-485 direction control not enabled on %s: %v", t.device, err)
		}
	}

	t.port = port
	t.closeOnce = sync.Once{}
	t.connected = true

	t.logger.Info(ctx, "Opened serial port %s", t.device)
	return nil
}

// Disconnect closes the serial port.
func (t *RTUTransport) Disconnect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if !t.connected {
		return nil
	}

	t.connected = false
	var err error
	t.closeOnce.Do(func() {
		if t.port != nil {
			err = t.port.Close()
		}
	})
	t.logger.Info(ctx, "Closed serial port %s", t.device)
	return err
}

// IsConnected reports whether the serial port is open.
func (t *RTUTransport) IsConnected() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.connected
}

// Send writes a request frame and reads the matching response frame.
// Requests are serialized because RTU has no transaction id to
// disambiguate interleaved responses on a half-duplex line.
func (t *RTUTransport) Send(ctx context.Context, request common.Request) (common.Response, error) {
	if !t.IsConnected() {
		return nil, common.ErrNotConnected
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := request.Encode()
	if err != nil {
		return nil, err
	}

	if hexLogger, ok := t.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, data)
	}

	t.logger.Debug(ctx, "Writing RTU request: unit=%d function=%d", request.GetUnitID(), request.GetPDU().FunctionCode)

	// RTU has no transaction id to hand to a TransactionPool, but it still
	// reuses Transaction's lifetime tracking so slow turnarounds get the
	// same "timed out after %v"-shaped warning TCP's pool emits, instead of
	// RTU having no notion of how long a request has been outstanding.
	tx := NewTransaction(ctx, request)
	defer tx.Cancel(nil)

	if _, err := t.port.Write(data); err != nil {
		t.setDisconnected(ctx, err)
		return nil, fmt.Errorf("write RTU frame: %w", err)
	}

	// Broadcast requests (unit id 0) have no response.
	// Ref: MODBUS over Serial Line V1.02, Section 2.2
	if request.GetUnitID() == 0 {
		return nil, nil
	}

	response, err := t.readResponse(ctx, request)
	if err != nil {
		return nil, err
	}

	if lifetime := tx.GetLifetime(); lifetime > t.timeout {
		t.logger.Warn(ctx, "RTU request to unit %d completed after %v, exceeding configured timeout %v", request.GetUnitID(), lifetime, t.timeout)
	}

	if hexLogger, ok := t.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, response)
	}

	unitID := common.UnitID(response[0])
	functionCode := common.FunctionCode(response[1])
	body := response[2 : len(response)-common.RTUCRCLength]

	return NewRTUResponse(unitID, functionCode, body), nil
}

// readResponse reads unit id, function code, and enough of the body to
// know the frame is complete, then verifies its CRC. Response length is
// data-dependent (byte counts in read responses, fixed sizes for writes),
// so header bytes are read first to learn how many more to expect.
//
// All reads for one frame share a single SilenceReader: once the first
// byte has arrived, a gap of 3.5 character times anywhere before the
// frame is complete — even across the header/prefix/body read calls
// below — aborts the read and discards everything read so far, per the
// RTU resynchronization rule.
func (t *RTUTransport) readResponse(ctx context.Context, request common.Request) ([]byte, error) {
	reader := NewSilenceReader(t.port, t.baudRate)

	header := make([]byte, 2)
	if _, err := io.ReadFull(reader, header); err != nil {
		t.disconnectUnlessSilence(ctx, err)
		return nil, fmt.Errorf("read RTU response header: %w", err)
	}

	functionCode := common.FunctionCode(header[1])

	if common.IsFunctionException(functionCode) {
		rest := make([]byte, 1+common.RTUCRCLength) // exception code + CRC
		if _, err := io.ReadFull(reader, rest); err != nil {
			t.disconnectUnlessSilence(ctx, err)
			return nil, fmt.Errorf("read RTU exception response: %w", err)
		}
		frame := append(header, rest...)
		if !common.VerifyCRC(frame) {
			return nil, common.ErrMalformedFrame
		}
		return frame, nil
	}

	prefix, remaining, err := expectedBodyRemainder(functionCode, reader)
	if err != nil {
		t.disconnectUnlessSilence(ctx, err)
		return nil, err
	}

	rest := make([]byte, remaining+common.RTUCRCLength)
	if _, err := io.ReadFull(reader, rest); err != nil {
		t.disconnectUnlessSilence(ctx, err)
		return nil, fmt.Errorf("read RTU response body: %w", err)
	}

	frame := append(header, prefix...)
	frame = append(frame, rest...)
	if !common.VerifyCRC(frame) {
		return nil, common.ErrMalformedFrame
	}
	return frame, nil
}

// expectedBodyRemainder reports how many more data bytes (excluding CRC)
// must still be read after the address and function code for a given
// response type. For read responses the byte-count field is itself
// transmitted first on the wire; it is consumed here and returned as
// prefix so the caller can fold it back into the reconstructed frame
// without reading it twice.
func expectedBodyRemainder(functionCode common.FunctionCode, r io.Reader) (prefix []byte, remaining int, err error) {
	switch functionCode {
	case common.FuncReadCoils, common.FuncReadDiscreteInputs,
		common.FuncReadHoldingRegisters, common.FuncReadInputRegisters,
		common.FuncReadWriteMultipleRegisters:
		byteCount := make([]byte, 1)
		if _, err := io.ReadFull(r, byteCount); err != nil {
			return nil, 0, fmt.Errorf("read RTU byte count: %w", err)
		}
		return byteCount, int(byteCount[0]), nil
	case common.FuncWriteSingleCoil, common.FuncWriteSingleRegister,
		common.FuncWriteMultipleCoils, common.FuncWriteMultipleRegisters:
		return nil, 4, nil // address (2) + value/quantity (2)
	case common.FuncReadExceptionStatus:
		return nil, 1, nil
	case common.FuncReadDeviceIdentification:
		return readDeviceIdentificationBody(r)
	default:
		return nil, 0, fmt.Errorf("%w: unsupported function code %#x for RTU framing", common.ErrMalformedFrame, functionCode)
	}
}

// readDeviceIdentificationBody reads a Read Device Identification response
// body in full and returns it as prefix (remaining is always 0: only the
// trailing CRC is left after this). Unlike the other read responses, this
// PDU carries no single leading byte count — its length is driven by a
// fixed six byte header plus a variable number of TLV-encoded objects.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.21 (Response PDU)
func readDeviceIdentificationBody(r io.Reader) (prefix []byte, remaining int, err error) {
	// MEI type, ReadDeviceID code, conformity level, more follows,
	// next object id, number of objects.
	head := make([]byte, 6)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, 0, fmt.Errorf("read device identification header: %w", err)
	}

	body := make([]byte, len(head))
	copy(body, head)

	numberOfObjects := int(head[5])
	for i := 0; i < numberOfObjects; i++ {
		objectHeader := make([]byte, 2) // object id, object length
		if _, err := io.ReadFull(r, objectHeader); err != nil {
			return nil, 0, fmt.Errorf("read device identification object header: %w", err)
		}
		body = append(body, objectHeader...)

		objectLength := int(objectHeader[1])
		if objectLength > 0 {
			value := make([]byte, objectLength)
			if _, err := io.ReadFull(r, value); err != nil {
				return nil, 0, fmt.Errorf("read device identification object value: %w", err)
			}
			body = append(body, value...)
		}
	}

	return body, 0, nil
}

func (t *RTUTransport) setDisconnected(ctx context.Context, err error) {
	t.connMu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.connMu.Unlock()
	if wasConnected {
		t.logger.Error(ctx, "RTU transport disconnected: %v", err)
	}
}

// disconnectUnlessSilence tears down the connection for a genuine I/O
// failure but leaves it up for a silence-timeout: the line itself is
// still fine, only this one response failed to complete in time, so
// the next request should be free to try again.
func (t *RTUTransport) disconnectUnlessSilence(ctx context.Context, err error) {
	if errors.Is(err, ErrFrameSilenceTimeout) {
		t.logger.Warn(ctx, "RTU response framing resynchronized after silence: %v", err)
		return
	}
	t.setDisconnected(ctx, err)
}
