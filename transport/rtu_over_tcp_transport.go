package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/logging"
)

// RTUOverTCPTransport speaks RTU framing (address + PDU + CRC-16) over a
// TCP socket instead of a serial line, the pattern used by serial-to-
// Ethernet gateways that tunnel a single RTU bus rather than translating
// it to true Modbus TCP/MBAP. Like RTUTransport it is half-duplex:
// requests are serialized and there is no transaction id to multiplex on.
type RTUOverTCPTransport struct {
	logger common.LoggerInterface

	host    string
	port    int
	timeout time.Duration

	mu        sync.Mutex
	connMu    sync.Mutex
	conn      net.Conn
	connected bool
	closeOnce sync.Once
}

// RTUOverTCPOption configures an RTUOverTCPTransport.
type RTUOverTCPOption func(*RTUOverTCPTransport)

// WithRTUOverTCPTimeout sets the dial and per-request timeout.
func WithRTUOverTCPTimeout(timeout time.Duration) RTUOverTCPOption {
	return func(t *RTUOverTCPTransport) { t.timeout = timeout }
}

// WithRTUOverTCPLogger sets the logger used by the transport.
func WithRTUOverTCPLogger(logger common.LoggerInterface) RTUOverTCPOption {
	return func(t *RTUOverTCPTransport) { t.logger = logger }
}

// NewRTUOverTCPTransport creates a transport that dials host:port and
// exchanges RTU-framed ADUs over the resulting stream.
func NewRTUOverTCPTransport(host string, port int, options ...RTUOverTCPOption) *RTUOverTCPTransport {
	t := &RTUOverTCPTransport{
		logger:  logging.NewLogger(),
		host:    host,
		port:    port,
		timeout: 5 * time.Second,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// WithLogger sets the logger for the transport and returns the modified transport.
func (t *RTUOverTCPTransport) WithLogger(logger common.LoggerInterface) common.Transport {
	t.logger = logger
	return t
}

// Connect dials the gateway.
func (t *RTUOverTCPTransport) Connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.connected {
		return common.ErrAlreadyConnected
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	t.logger.Info(ctx, "Connecting to RTU-over-TCP gateway at %s", addr)

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Error(ctx, "Failed to connect to %s: %v", addr, err)
		return err
	}

	t.conn = conn
	t.closeOnce = sync.Once{}
	t.connected = true

	t.logger.Info(ctx, "Connected to RTU-over-TCP gateway at %s", addr)
	return nil
}

// Disconnect closes the socket.
func (t *RTUOverTCPTransport) Disconnect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if !t.connected {
		return nil
	}

	t.connected = false
	var err error
	t.closeOnce.Do(func() {
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	t.logger.Info(ctx, "Disconnected from RTU-over-TCP gateway")
	return err
}

// IsConnected reports whether the socket is open.
func (t *RTUOverTCPTransport) IsConnected() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.connected
}

// Send writes a request frame and reads the matching response frame,
// reusing the same RTU body-length rules as RTUTransport.
func (t *RTUOverTCPTransport) Send(ctx context.Context, request common.Request) (common.Response, error) {
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

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetDeadline(deadline)
	} else if t.timeout > 0 {
		t.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	if _, err := t.conn.Write(data); err != nil {
		t.setDisconnected(ctx, err)
		return nil, fmt.Errorf("write RTU-over-TCP frame: %w", err)
	}

	if request.GetUnitID() == 0 {
		return nil, nil
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		t.setDisconnected(ctx, err)
		return nil, fmt.Errorf("read RTU-over-TCP response header: %w", err)
	}

	functionCode := common.FunctionCode(header[1])

	var frame []byte
	if common.IsFunctionException(functionCode) {
		rest := make([]byte, 1+common.RTUCRCLength)
		if _, err := io.ReadFull(t.conn, rest); err != nil {
			t.setDisconnected(ctx, err)
			return nil, fmt.Errorf("read RTU-over-TCP exception response: %w", err)
		}
		frame = append(header, rest...)
	} else {
		prefix, remaining, err := expectedBodyRemainder(functionCode, t.conn)
		if err != nil {
			t.setDisconnected(ctx, err)
			return nil, err
		}
		rest := make([]byte, remaining+common.RTUCRCLength)
		if _, err := io.ReadFull(t.conn, rest); err != nil {
			t.setDisconnected(ctx, err)
			return nil, fmt.Errorf("read RTU-over-TCP response body: %w", err)
		}
		frame = append(header, prefix...)
		frame = append(frame, rest...)
	}

	if !common.VerifyCRC(frame) {
		return nil, common.ErrMalformedFrame
	}

	if hexLogger, ok := t.logger.(common.LoggerInterfaceHexdump); ok {
		hexLogger.Hexdump(ctx, frame)
	}

	unitID := common.UnitID(frame[0])
	body := frame[2 : len(frame)-common.RTUCRCLength]
	return NewRTUResponse(unitID, functionCode, body), nil
}

func (t *RTUOverTCPTransport) setDisconnected(ctx context.Context, err error) {
	t.connMu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.connMu.Unlock()
	if wasConnected {
		t.logger.Error(ctx, "RTU-over-TCP transport disconnected: %v", err)
	}
}
