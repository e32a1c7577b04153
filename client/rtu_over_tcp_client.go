package client

import (
	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/transport"
)

// RTUOverTCPClient speaks RTU framing tunneled over a TCP socket, as
// exposed by serial-to-Ethernet gateways that do not translate to true
// Modbus TCP/MBAP.
type RTUOverTCPClient struct {
	*BaseClient
	rtuOverTCPTransport *transport.RTUOverTCPTransport
}

// RTUOverTCPClientOption configures an RTUOverTCPClient.
type RTUOverTCPClientOption func(*RTUOverTCPClient)

// WithRTUOverTCPClientLogger sets the logger for the client.
func WithRTUOverTCPClientLogger(logger common.LoggerInterface) RTUOverTCPClientOption {
	return func(c *RTUOverTCPClient) {
		c.BaseClient = c.BaseClient.WithLogger(logger).(*BaseClient)
	}
}

// WithRTUOverTCPClientUnitID sets the unit ID for the client.
func WithRTUOverTCPClientUnitID(unitID common.UnitID) RTUOverTCPClientOption {
	return func(c *RTUOverTCPClient) {
		c.BaseClient = NewBaseClient(
			c.rtuOverTCPTransport,
			WithUnitID(unitID),
			WithLogger(c.BaseClient.logger),
			WithProtocol(c.BaseClient.protocol),
			WithRequestFactory(rtuRequestFactory),
		)
	}
}

// NewRTUOverTCPClient creates a new client that dials host:port and
// exchanges RTU-framed ADUs over the resulting stream.
func NewRTUOverTCPClient(host string, port int, options ...transport.RTUOverTCPOption) *RTUOverTCPClient {
	rtuOverTCPTransport := transport.NewRTUOverTCPTransport(host, port, options...)

	baseClient := NewBaseClient(rtuOverTCPTransport, WithRequestFactory(rtuRequestFactory))

	return &RTUOverTCPClient{
		BaseClient:          baseClient,
		rtuOverTCPTransport: rtuOverTCPTransport,
	}
}

// WithOptions applies the given options to the RTUOverTCPClient.
func (c *RTUOverTCPClient) WithOptions(options ...RTUOverTCPClientOption) *RTUOverTCPClient {
	for _, option := range options {
		option(c)
	}
	return c
}
