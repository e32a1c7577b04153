package transport

import (
	"github.com/Moonlight-Companies/gomodbus/common"
)

// RTURequest implements common.Request for Modbus RTU framing: a one byte
// unit id, the PDU, and a trailing CRC-16. RTU has no transaction id on the
// wire; TransactionID is tracked only so callers can use the same
// common.Request contract as TCP, and is never transmitted.
// Ref: MODBUS over Serial Line V1.02, Section 2.5.1 (RTU Transmission Mode)
type RTURequest struct {
	TransactionID common.TransactionID
	UnitID        common.UnitID
	PDU           *common.PDU
}

// NewRTURequest creates a new RTURequest.
func NewRTURequest(unitID common.UnitID, functionCode common.FunctionCode, data []byte) *RTURequest {
	return &RTURequest{
		UnitID: unitID,
		PDU: &common.PDU{
			FunctionCode: functionCode,
			Data:         data,
		},
	}
}

func (r *RTURequest) GetTransactionID() common.TransactionID { return r.TransactionID }
func (r *RTURequest) SetTransactionID(id common.TransactionID) { r.TransactionID = id }
func (r *RTURequest) GetUnitID() common.UnitID                { return r.UnitID }
func (r *RTURequest) GetPDU() *common.PDU                     { return r.PDU }

// Encode serializes the request as unit id + PDU + CRC-16 (LSB first).
func (r *RTURequest) Encode() ([]byte, error) {
	buf := common.NewByteBuffer(common.RTUAddressLength + 1 + len(r.PDU.Data))
	buf.WriteByte(byte(r.UnitID))
	buf.WriteByte(byte(r.PDU.FunctionCode))
	buf.WriteBytes(r.PDU.Data)
	return common.AppendCRC(buf.Bytes()), nil
}

// Decode parses unit id + PDU from a CRC-verified frame body (address and
// PDU only, no trailing CRC bytes).
func (r *RTURequest) Decode(data []byte) error {
	if len(data) < common.RTUAddressLength+1 {
		return common.ErrMalformedFrame
	}
	r.UnitID = common.UnitID(data[0])
	r.PDU = &common.PDU{
		FunctionCode: common.FunctionCode(data[1]),
		Data:         data[2:],
	}
	return nil
}

// RTUResponse implements common.Response for Modbus RTU framing.
type RTUResponse struct {
	UnitID common.UnitID
	PDU    *common.PDU
}

// NewRTUResponse creates a new RTUResponse.
func NewRTUResponse(unitID common.UnitID, functionCode common.FunctionCode, data []byte) *RTUResponse {
	return &RTUResponse{
		UnitID: unitID,
		PDU: &common.PDU{
			FunctionCode: functionCode,
			Data:         data,
		},
	}
}

// GetTransactionID always returns 0: RTU responses carry no transaction id.
func (r *RTUResponse) GetTransactionID() common.TransactionID { return 0 }
func (r *RTUResponse) GetUnitID() common.UnitID                { return r.UnitID }
func (r *RTUResponse) GetPDU() *common.PDU                     { return r.PDU }

func (r *RTUResponse) Encode() ([]byte, error) {
	buf := common.NewByteBuffer(common.RTUAddressLength + 1 + len(r.PDU.Data))
	buf.WriteByte(byte(r.UnitID))
	buf.WriteByte(byte(r.PDU.FunctionCode))
	buf.WriteBytes(r.PDU.Data)
	return common.AppendCRC(buf.Bytes()), nil
}

func (r *RTUResponse) Decode(data []byte) error {
	if len(data) < common.RTUAddressLength+1 {
		return common.ErrMalformedFrame
	}
	r.UnitID = common.UnitID(data[0])
	r.PDU = &common.PDU{
		FunctionCode: common.FunctionCode(data[1]),
		Data:         data[2:],
	}
	return nil
}

func (r *RTUResponse) IsException() bool {
	isException, _, _ := exceptionFields(r.PDU)
	return isException
}

func (r *RTUResponse) GetException() common.ExceptionCode {
	_, code, _ := exceptionFields(r.PDU)
	return code
}

func (r *RTUResponse) ToError() error {
	_, _, toErr := exceptionFields(r.PDU)
	return toErr
}
