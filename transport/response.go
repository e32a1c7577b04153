package transport

import (
	"github.com/Moonlight-Companies/gomodbus/common"
)

// Response implements common.Response for MBAP (Modbus TCP) framing.
type Response struct {
	TransactionID common.TransactionID
	ProtocolID    common.ProtocolID
	UnitID        common.UnitID
	PDU           *common.PDU
}

// NewResponse creates a new Response
func NewResponse(transactionID common.TransactionID, unitID common.UnitID, functionCode common.FunctionCode, data []byte) *Response {
	return &Response{
		TransactionID: transactionID,
		ProtocolID:    common.TCPProtocolIdentifier,
		UnitID:        unitID,
		PDU: &common.PDU{
			FunctionCode: functionCode,
			Data:         data,
		},
	}
}

// GetTransactionID returns the transaction ID
func (r *Response) GetTransactionID() common.TransactionID {
	return r.TransactionID
}

// GetUnitID returns the unit ID
func (r *Response) GetUnitID() common.UnitID {
	return r.UnitID
}

// GetPDU returns the PDU
func (r *Response) GetPDU() *common.PDU {
	return r.PDU
}

// Encode encodes a Response into MBAP ADU bytes.
func (r *Response) Encode() ([]byte, error) {
	header := mbapHeader{TransactionID: r.TransactionID, ProtocolID: r.ProtocolID, UnitID: r.UnitID}
	return encodeMBAPFrame(header, r.PDU)
}

// Decode decodes a Response from MBAP ADU bytes.
func (r *Response) Decode(data []byte) error {
	header, pdu, err := decodeMBAPFrame(data)
	if err != nil {
		return err
	}
	r.TransactionID = header.TransactionID
	r.ProtocolID = header.ProtocolID
	r.UnitID = header.UnitID
	r.PDU = pdu
	return nil
}

// IsException reports whether the response carries an exception PDU.
func (r *Response) IsException() bool {
	isException, _, _ := exceptionFields(r.PDU)
	return isException
}

// GetException returns the exception code, or 0 if this is not an exception.
func (r *Response) GetException() common.ExceptionCode {
	_, code, _ := exceptionFields(r.PDU)
	return code
}

// ToError converts an exception response into an error, or nil otherwise.
func (r *Response) ToError() error {
	_, _, toErr := exceptionFields(r.PDU)
	return toErr
}
