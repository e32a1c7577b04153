package server

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"

	"github.com/Moonlight-Companies/gomodbus/common"
	"github.com/Moonlight-Companies/gomodbus/logging"
	"github.com/Moonlight-Companies/gomodbus/protocol"
	"github.com/Moonlight-Companies/gomodbus/transport"
)

// RTUServer answers Modbus RTU requests over a serial line. Unlike
// TCPServer's goroutine-per-connection model, a serial line has exactly
// one peer, so RTUServer runs a single request/response loop: read a
// frame, dispatch it, write the response, repeat.
// Ref: MODBUS over Serial Line V1.02, Section 2.5.1 (RTU Transmission Mode)
type RTUServer struct {
	device   string
	baudRate int
	dataBits int
	parity   string
	stopBits int
	timeout  time.Duration
	rs485    *transport.RS485Config

	// unitIDs lists the unit ids this server answers for. A request
	// addressed to any other unit id is ignored, matching the silent
	// drop behavior of a real RTU slave (contrast with TCPServer, which
	// can return a gateway exception for an unreachable unit).
	unitIDs map[common.UnitID]bool

	defaultStore common.DataStore
	handlers     map[common.FunctionCode]common.HandlerFunc

	port serial.Port

	mutex    sync.RWMutex
	running  bool
	stopChan chan struct{}
	logger   common.LoggerInterface

	protocol *serverProtocolHandler

	rxCount atomic.Uint64
	txCount atomic.Uint64
	fc      fcCounters
}

// Stats returns a snapshot of this server's traffic counters for its
// serial line, mirroring TCPServer.ConnectedClients for the single-peer
// RTU case.
func (s *RTUServer) Stats() RTULineStats {
	return RTULineStats{
		Device:            s.device,
		RxFrames:          s.rxCount.Load(),
		TxFrames:          s.txCount.Load(),
		FunctionCodeStats: s.fc.snapshot(),
	}
}

// RTUServerOption configures an RTUServer.
type RTUServerOption func(*RTUServer)

// WithRTUServerDataBits sets the serial data bits (default 8).
func WithRTUServerDataBits(bits int) RTUServerOption {
	return func(s *RTUServer) { s.dataBits = bits }
}

// WithRTUServerParity sets the serial parity ("N", "E", or "O"; default "N").
func WithRTUServerParity(parity string) RTUServerOption {
	return func(s *RTUServer) { s.parity = parity }
}

// WithRTUServerStopBits sets the serial stop bits (default 1).
func WithRTUServerStopBits(bits int) RTUServerOption {
	return func(s *RTUServer) { s.stopBits = bits }
}

// WithRTUServerTimeout sets the per-read timeout on the serial port.
func WithRTUServerTimeout(timeout time.Duration) RTUServerOption {
	return func(s *RTUServer) { s.timeout = timeout }
}

// WithRTUServerUnitIDs restricts which unit ids this server answers for.
// An empty set (the default before calling this) answers every unit id.
func WithRTUServerUnitIDs(unitIDs ...common.UnitID) RTUServerOption {
	return func(s *RTUServer) {
		s.unitIDs = make(map[common.UnitID]bool, len(unitIDs))
		for _, id := range unitIDs {
			s.unitIDs[id] = true
		}
	}
}

// WithRTUServerDataStore sets the data store backing every answered unit id.
func WithRTUServerDataStore(store common.DataStore) RTUServerOption {
	return func(s *RTUServer) { s.defaultStore = store }
}

// WithRTUServerLogger sets the logger used by the server.
func WithRTUServerLogger(logger common.LoggerInterface) RTUServerOption {
	return func(s *RTUServer) { s.logger = logger }
}

// WithRTUServerRS485 enables RS-485 direction control on the serial port,
// where supported by the platform.
func WithRTUServerRS485(cfg transport.RS485Config) RTUServerOption {
	return func(s *RTUServer) { s.rs485 = &cfg }
}

// NewRTUServer creates a server bound to a serial device.
func NewRTUServer(device string, baudRate int, options ...RTUServerOption) *RTUServer {
	s := &RTUServer{
		device:       device,
		baudRate:     baudRate,
		dataBits:     8,
		parity:       "N",
		stopBits:     1,
		timeout:      1 * time.Second,
		unitIDs:      make(map[common.UnitID]bool),
		defaultStore: NewMemoryStore(),
		handlers:     make(map[common.FunctionCode]common.HandlerFunc),
		protocol:     newRTUServerProtocolHandler(),
		logger:       logging.NewLogger(),
	}
	for _, option := range options {
		option(s)
	}
	s.setupDefaultHandlers()
	return s
}

// WithLogger sets the logger for the server.
func (s *RTUServer) WithLogger(logger common.LoggerInterface) common.Server {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logger = logger
	return s
}

// WithDataStore sets the data store for the server.
func (s *RTUServer) WithDataStore(dataStore common.DataStore) common.Server {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.defaultStore = dataStore
	s.setupDefaultHandlers()
	return s
}

// SetHandler sets the handler for a specific Modbus function code.
func (s *RTUServer) SetHandler(functionCode common.FunctionCode, handler common.HandlerFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers[functionCode] = handler
}

func (s *RTUServer) setupDefaultHandlers() {
	s.handlers = make(map[common.FunctionCode]common.HandlerFunc)

	s.SetHandler(common.FuncReadCoils, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadCoils(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncReadDiscreteInputs, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadDiscreteInputs(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncReadHoldingRegisters, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadHoldingRegisters(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncReadInputRegisters, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadInputRegisters(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncWriteSingleCoil, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleWriteSingleCoil(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncWriteSingleRegister, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleWriteSingleRegister(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncWriteMultipleCoils, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleWriteMultipleCoils(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncWriteMultipleRegisters, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleWriteMultipleRegisters(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncReadWriteMultipleRegisters, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadWriteMultipleRegisters(ctx, req, s.defaultStore)
	})
	s.SetHandler(common.FuncReadDeviceIdentification, func(ctx context.Context, req common.Request) (common.Response, error) {
		return s.protocol.HandleReadDeviceIdentification(ctx, req, s.defaultStore)
	})
}

// Start opens the serial port and begins the request/response loop.
func (s *RTUServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return fmt.Errorf("server already running")
	}

	cfg := &serial.Config{
		Address:  s.device,
		BaudRate: s.baudRate,
		DataBits: s.dataBits,
		Parity:   s.parity,
		StopBits: s.stopBits,
		Timeout:  s.timeout,
	}

	port, err := serial.Open(cfg)
	if err != nil {
		s.mutex.Unlock()
		return fmt.Errorf("open serial port %s: %w", s.device, err)
	}

	if s.rs485 != nil && s.rs485.Enabled {
		if rsErr := transport.EnableRS485(port, *s.rs485); rsErr != nil {
			s.logger.Warn(ctx, "RS-485 direction control not enabled on %s: %v", s.device, rsErr)
		}
	}

	s.port = port
	s.running = true
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	s.logger.Info(ctx, "Modbus RTU server started on %s at %d baud", s.device, s.baudRate)

	go s.serveLoop(ctx)

	return nil
}

// Stop closes the serial port and ends the request/response loop.
func (s *RTUServer) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}

	close(s.stopChan)
	s.running = false

	var err error
	if s.port != nil {
		err = s.port.Close()
	}

	s.logger.Info(ctx, "Modbus RTU server stopped")
	return err
}

// IsRunning reports whether the server's serve loop is active.
func (s *RTUServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// serveLoop reads one RTU request frame at a time and answers it. RS-485
// half-duplex lines have a single peer, so there is no accept/connection
// model the way TCPServer has one.
func (s *RTUServer) serveLoop(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		frame, err := s.readRequestFrame()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if err == io.EOF {
				return
			}
			// Read timeouts and CRC/framing errors are routine on a
			// shared bus; log and keep listening for the next frame.
			s.logger.Debug(ctx, "RTU frame read error: %v", err)
			continue
		}

		s.rxCount.Add(1)

		request := &transport.RTURequest{}
		if err := request.Decode(frame[:len(frame)-common.RTUCRCLength]); err != nil {
			s.logger.Warn(ctx, "Malformed RTU request: %v", err)
			continue
		}

		if len(s.unitIDs) > 0 && !s.unitIDs[request.GetUnitID()] {
			continue // addressed to a different slave on the bus
		}

		s.fc.add(request.GetPDU().FunctionCode)

		response, err := s.dispatchRequest(ctx, request)
		if err != nil {
			if modbusErr, ok := err.(*common.ModbusError); ok {
				excFunc, excData := protocol.EncodeException(request.GetPDU().FunctionCode, modbusErr.ExceptionCode)
				response = transport.NewRTUResponse(request.GetUnitID(), excFunc, excData)
			} else {
				s.logger.Error(ctx, "Error processing RTU request: %v", err)
				continue
			}
		}

		// A broadcast request (unit id 0) never gets a reply.
		if request.GetUnitID() == 0 {
			continue
		}

		s.sendResponse(ctx, response)
	}
}

// readRequestFrame reads address + function code, then enough of the PDU
// to know the frame is complete, mirroring the length rules a real RTU
// slave uses to find frame boundaries without an explicit delimiter.
//
// A single transport.SilenceReader backs the whole frame: once the
// first byte arrives, a gap of 3.5 character times anywhere before the
// frame completes — across the header, prefix, and body reads below —
// aborts the attempt and discards everything read so far. serveLoop
// already treats any readRequestFrame error as routine and keeps
// listening, which is exactly the correct resync behavior here.
func (s *RTUServer) readRequestFrame() ([]byte, error) {
	reader := transport.NewSilenceReader(s.port, s.baudRate)

	header := make([]byte, 2)
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, err
	}

	functionCode := common.FunctionCode(header[1])
	remaining, err := requestBodyLength(functionCode, reader)
	if err != nil {
		return nil, err
	}

	rest := make([]byte, len(remaining.prefix)+remaining.tail+common.RTUCRCLength)
	copy(rest, remaining.prefix)
	if _, err := io.ReadFull(reader, rest[len(remaining.prefix):]); err != nil {
		return nil, err
	}

	frame := append(header, rest...)
	if !common.VerifyCRC(frame) {
		return nil, common.ErrMalformedFrame
	}
	return frame, nil
}

// requestRemainder describes bytes already consumed while probing a
// variable-length request body (prefix) plus how many more to read.
type requestRemainder struct {
	prefix []byte
	tail   int
}

// requestBodyLength reports how many PDU data bytes follow the function
// code for a given request type, consuming any length-prefix bytes
// (byte counts) that must be read to determine it.
func requestBodyLength(functionCode common.FunctionCode, r io.Reader) (requestRemainder, error) {
	switch functionCode {
	case common.FuncReadCoils, common.FuncReadDiscreteInputs,
		common.FuncReadHoldingRegisters, common.FuncReadInputRegisters:
		return requestRemainder{tail: 4}, nil // address (2) + quantity (2)
	case common.FuncWriteSingleCoil, common.FuncWriteSingleRegister:
		return requestRemainder{tail: 4}, nil // address (2) + value (2)
	case common.FuncWriteMultipleCoils, common.FuncWriteMultipleRegisters:
		prefix := make([]byte, 5) // address (2) + quantity (2) + byte count (1)
		if _, err := io.ReadFull(r, prefix); err != nil {
			return requestRemainder{}, fmt.Errorf("read RTU request prefix: %w", err)
		}
		return requestRemainder{prefix: prefix, tail: int(prefix[4])}, nil
	case common.FuncReadWriteMultipleRegisters:
		prefix := make([]byte, 9) // 4 addr/qty fields (2 bytes each) + byte count (1)
		if _, err := io.ReadFull(r, prefix); err != nil {
			return requestRemainder{}, fmt.Errorf("read RTU request prefix: %w", err)
		}
		return requestRemainder{prefix: prefix, tail: int(prefix[8])}, nil
	case common.FuncReadDeviceIdentification:
		return requestRemainder{tail: 3}, nil // MEI type + ReadDeviceID code + object id
	case common.FuncReadExceptionStatus:
		return requestRemainder{tail: 0}, nil
	default:
		return requestRemainder{}, fmt.Errorf("%w: unsupported function code %#x for RTU framing", common.ErrMalformedFrame, functionCode)
	}
}

func (s *RTUServer) dispatchRequest(ctx context.Context, request common.Request) (common.Response, error) {
	functionCode := request.GetPDU().FunctionCode

	s.mutex.RLock()
	handler, exists := s.handlers[functionCode]
	s.mutex.RUnlock()

	if !exists {
		return nil, &common.ModbusError{
			FunctionCode:  functionCode,
			ExceptionCode: common.ExceptionFunctionCodeNotSupported,
		}
	}

	return handler(ctx, request)
}

func (s *RTUServer) sendResponse(ctx context.Context, response common.Response) {
	data, err := response.Encode()
	if err != nil {
		s.logger.Error(ctx, "Error encoding RTU response: %v", err)
		return
	}

	if _, err := s.port.Write(data); err != nil {
		s.logger.Error(ctx, "Error writing RTU response: %v", err)
		return
	}

	s.txCount.Add(1)
}
