package transport

import (
	"time"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// Request implements common.Request for MBAP (Modbus TCP) framing.
type Request struct {
	TransactionID common.TransactionID
	ProtocolID    common.ProtocolID
	UnitID        common.UnitID
	PDU           *common.PDU
	Create        time.Time
}

// NewRequest creates a new Request
func NewRequest(unitID common.UnitID, functionCode common.FunctionCode, data []byte) *Request {
	return &Request{
		ProtocolID: common.TCPProtocolIdentifier,
		UnitID:     unitID,
		PDU: &common.PDU{
			FunctionCode: functionCode,
			Data:         data,
		},
		Create: time.Now(),
	}
}

// GetTransactionID returns the transaction ID
func (r *Request) GetTransactionID() common.TransactionID {
	return r.TransactionID
}

// SetTransactionID sets the transaction ID
func (r *Request) SetTransactionID(id common.TransactionID) {
	r.TransactionID = id
}

// GetUnitID returns the unit ID
func (r *Request) GetUnitID() common.UnitID {
	return r.UnitID
}

// GetPDU returns the PDU
func (r *Request) GetPDU() *common.PDU {
	return r.PDU
}

// Encode encodes a Request into MBAP ADU bytes.
func (r *Request) Encode() ([]byte, error) {
	header := mbapHeader{TransactionID: r.TransactionID, ProtocolID: r.ProtocolID, UnitID: r.UnitID}
	return encodeMBAPFrame(header, r.PDU)
}

// Decode decodes a Request from MBAP ADU bytes.
func (r *Request) Decode(data []byte) error {
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

// GetLifetime returns how long this request has been outstanding.
func (r *Request) GetLifetime() time.Duration {
	return time.Since(r.Create)
}

// Cancel is called when a transaction is cancelled before completion.
func (r *Request) Cancel(err error) {}
