package client

import (
	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/transport"
)

// RTUClient is a Modbus RTU client communicating over a serial line.
type RTUClient struct {
	*BaseClient
	rtuTransport *transport.RTUTransport
}

// RTUOption configures an RTUClient.
type RTUOption func(*RTUClient)

// WithRTUClientLogger sets the logger for the RTU client.
func WithRTUClientLogger(logger common.LoggerInterface) RTUOption {
	return func(c *RTUClient) {
		c.BaseClient = c.BaseClient.WithLogger(logger).(*BaseClient)
	}
}

// WithRTUClientUnitID sets the unit ID for the RTU client.
func WithRTUClientUnitID(unitID common.UnitID) RTUOption {
	return func(c *RTUClient) {
		c.BaseClient = NewBaseClient(
			c.rtuTransport,
			WithUnitID(unitID),
			WithLogger(c.BaseClient.logger),
			WithProtocol(c.BaseClient.protocol),
			WithRequestFactory(rtuRequestFactory),
		)
	}
}

// rtuRequestFactory builds RTU-framed (address+PDU+CRC) requests.
func rtuRequestFactory(unitID common.UnitID, functionCode common.FunctionCode, data []byte) common.Request {
	return transport.NewRTURequest(unitID, functionCode, data)
}

// NewRTUClient creates a new Modbus RTU client bound to a serial device.
func NewRTUClient(device string, baudRate int, options ...transport.RTUTransportOption) *RTUClient {
	rtuTransport := transport.NewRTUTransport(device, baudRate, options...)

	baseClient := NewBaseClient(rtuTransport, WithRequestFactory(rtuRequestFactory))

	return &RTUClient{
		BaseClient:   baseClient,
		rtuTransport: rtuTransport,
	}
}

// WithOptions applies the given options to the RTUClient.
func (c *RTUClient) WithOptions(options ...RTUOption) *RTUClient {
	for _, option := range options {
		option(c)
	}
	return c
}
