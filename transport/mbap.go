package transport

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// mbapHeader is the envelope shared by every MBAP-framed ADU: transaction
// id, protocol id, and unit id. Request and Response differ only in which
// of these fields they populate before handing off to encodeMBAPFrame, and
// in how many of them they keep after decodeMBAPFrame.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.1, Table 3 (MBAP Header)
type mbapHeader struct {
	TransactionID common.TransactionID
	ProtocolID    common.ProtocolID
	UnitID        common.UnitID
}

// encodeMBAPFrame serializes header + PDU as the wire bytes of an MBAP ADU,
// shared by Request.Encode and Response.Encode.
func encodeMBAPFrame(header mbapHeader, pdu *common.PDU) ([]byte, error) {
	// Length field = Unit ID (1 byte) + Function Code (1 byte) + Data (N bytes)
	length := uint16(1 + 1 + len(pdu.Data))

	buffer := bytes.Buffer{}

	// Each MODBUS data type is packed big-endian: most significant byte
	// first. Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.3
	if err := binary.Write(&buffer, binary.BigEndian, header.TransactionID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.BigEndian, header.ProtocolID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.BigEndian, length); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.BigEndian, header.UnitID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.BigEndian, pdu.FunctionCode); err != nil {
		return nil, err
	}
	if _, err := buffer.Write(pdu.Data); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// decodeMBAPFrame parses the wire bytes of an MBAP ADU into a header and
// PDU, shared by Request.Decode and Response.Decode.
func decodeMBAPFrame(data []byte) (mbapHeader, *common.PDU, error) {
	var header mbapHeader

	if len(data) < common.TCPHeaderLength {
		return header, nil, common.ErrInvalidResponseLength
	}

	buffer := bytes.NewReader(data)

	if err := binary.Read(buffer, binary.BigEndian, &header.TransactionID); err != nil {
		return header, nil, err
	}
	if err := binary.Read(buffer, binary.BigEndian, &header.ProtocolID); err != nil {
		return header, nil, err
	}

	var length uint16
	if err := binary.Read(buffer, binary.BigEndian, &length); err != nil {
		return header, nil, err
	}

	if err := binary.Read(buffer, binary.BigEndian, &header.UnitID); err != nil {
		return header, nil, err
	}

	functionCode := byte(0)
	if err := binary.Read(buffer, binary.BigEndian, &functionCode); err != nil {
		return header, nil, err
	}

	// Length field includes Unit ID (1) and Function Code (1).
	pduDataLength := int(length) - 2
	if pduDataLength < 0 {
		return header, nil, common.ErrInvalidResponseLength
	}

	pduData := make([]byte, pduDataLength)
	if _, err := io.ReadFull(buffer, pduData); err != nil {
		return header, nil, err
	}

	return header, &common.PDU{
		FunctionCode: common.FunctionCode(functionCode),
		Data:         pduData,
	}, nil
}

// decodeMBAPHeader parses an already-read, fixed-length MBAP header (no
// PDU yet) and reports how many more body bytes (unit id already consumed,
// function code + data remaining) the caller still needs to read. Shared by
// TCPTransport.readLoop, which must learn the body length before it knows
// how large a read to issue next.
func decodeMBAPHeader(header []byte) (mbapHeader, int, error) {
	var h mbapHeader
	if len(header) < common.TCPHeaderLength {
		return h, 0, common.ErrInvalidResponseLength
	}
	h.TransactionID = common.TransactionID(binary.BigEndian.Uint16(header[0:2]))
	h.ProtocolID = common.ProtocolID(binary.BigEndian.Uint16(header[2:4]))
	length := binary.BigEndian.Uint16(header[4:6])
	h.UnitID = common.UnitID(header[6])
	// Length counts the unit id byte already consumed above, plus the
	// function code and data still to be read.
	return h, int(length) - 1, nil
}

// exceptionFields implements the IsException/GetException/ToError triad
// shared by Response and RTUResponse, both of which carry only a *common.PDU.
func exceptionFields(pdu *common.PDU) (isException bool, code common.ExceptionCode, toError error) {
	isException = common.IsFunctionException(pdu.FunctionCode)
	if isException && len(pdu.Data) > 0 {
		code = common.ExceptionCode(pdu.Data[0])
		toError = common.NewModbusError(pdu.FunctionCode, code)
	}
	return isException, code, toError
}
