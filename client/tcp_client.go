package client

import (
	"io"

	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/transport"
)

// TCPClient is a Modbus TCP client communicating over MBAP framing.
type TCPClient struct {
	*BaseClient
	tcpTransport *transport.TCPTransport
}

// TCPOption configures a TCPClient.
type TCPOption func(*TCPClient)

// WithTCPClientLogger sets the logger for the TCP client.
func WithTCPClientLogger(logger common.LoggerInterface) TCPOption {
	return func(c *TCPClient) {
		c.BaseClient = c.BaseClient.WithLogger(logger).(*BaseClient)
	}
}

// WithTCPClientUnitID sets the unit ID for the TCP client.
func WithTCPClientUnitID(unitID common.UnitID) TCPOption {
	return func(c *TCPClient) {
		c.BaseClient = NewBaseClient(
			c.tcpTransport,
			WithUnitID(unitID),
			WithLogger(c.BaseClient.logger),
			WithProtocol(c.BaseClient.protocol),
		)
	}
}

// NewTCPClient creates a new Modbus TCP client dialing host over MBAP.
func NewTCPClient(host string, options ...transport.TCPTransportOption) *TCPClient {
	tcpTransport := transport.NewTCPTransport(host, options...)
	baseClient := NewBaseClient(tcpTransport)

	return &TCPClient{
		BaseClient:   baseClient,
		tcpTransport: tcpTransport,
	}
}

// WithOptions applies the given options to the TCPClient.
func (c *TCPClient) WithOptions(options ...TCPOption) *TCPClient {
	for _, option := range options {
		option(c)
	}
	return c
}

// FromReaderWriter creates a TCP client bound to an arbitrary reader/writer
// pair instead of a dialed connection, for tests and in-process pipes.
func FromReaderWriter(reader io.Reader, writer io.Writer) *TCPClient {
	tcpTransport := transport.NewTCPTransport("test",
		transport.WithReader(reader),
		transport.WithWriter(writer),
	)
	baseClient := NewBaseClient(tcpTransport)

	return &TCPClient{
		BaseClient:   baseClient,
		tcpTransport: tcpTransport,
	}
}
