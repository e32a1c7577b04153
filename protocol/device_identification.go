package protocol

import (
	"context"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// GenerateReadDeviceIdentificationRequest generates a request to read device
// identification objects (MEI type 0x0E).
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.21 (Request PDU Format)
func (h *ProtocolHandler) GenerateReadDeviceIdentificationRequest(readDeviceIDCode common.ReadDeviceIDCode, objectID common.DeviceIDObjectCode) ([]byte, error) {
	ctx := context.Background()
	h.logger.Debug(ctx, "Generating read device identification request: code=%d, objectID=%d", readDeviceIDCode, objectID)

	if readDeviceIDCode < common.ReadDeviceIDBasic || readDeviceIDCode > common.ReadDeviceIDSpecific {
		h.logger.Error(ctx, "Invalid read device ID code: %d", readDeviceIDCode)
		return nil, common.ErrInvalidValue
	}

	data := []byte{byte(common.MEIReadDeviceID), byte(readDeviceIDCode), byte(objectID)}

	h.logger.Debug(ctx, "Generated read device identification request data: %v", data)
	return data, nil
}

// deviceIDHeaderLength is MEI type + ReadDeviceID code + conformity level +
// more-follows + next object id + number of objects.
const deviceIDHeaderLength = 6

// parseDeviceIDObjects walks the id/length/value-prefixed object list that
// follows a device identification response header.
func parseDeviceIDObjects(data []byte, count int) ([]common.DeviceIDObject, error) {
	objects := make([]common.DeviceIDObject, 0, count)
	offset := deviceIDHeaderLength

	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return nil, common.ErrInvalidResponseFormat
		}

		objectID := common.DeviceIDObjectCode(data[offset])
		objectLength := data[offset+1]
		offset += 2

		if offset+int(objectLength) > len(data) {
			return nil, common.ErrInvalidResponseFormat
		}

		objectValue := string(data[offset : offset+int(objectLength)])
		offset += int(objectLength)

		objects = append(objects, common.DeviceIDObject{
			ID:     objectID,
			Length: objectLength,
			Value:  objectValue,
		})
	}

	return objects, nil
}

// ParseReadDeviceIdentificationResponse parses a single page of a (possibly
// multi-page) read device identification response.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.21 (Response PDU Format)
func (h *ProtocolHandler) ParseReadDeviceIdentificationResponse(data []byte) (*common.DeviceIdentification, error) {
	ctx := context.Background()
	h.logger.Debug(ctx, "Parsing read device identification response: %v", data)

	if len(data) < deviceIDHeaderLength {
		h.logger.Error(ctx, "Invalid response length for read device identification: %d", len(data))
		return nil, common.ErrInvalidResponseLength
	}

	if common.MEIType(data[0]) != common.MEIReadDeviceID {
		h.logger.Error(ctx, "Invalid MEI type: 0x%02X, expected 0x%02X", data[0], common.MEIReadDeviceID)
		return nil, common.ErrInvalidValue
	}

	objects, err := parseDeviceIDObjects(data, int(data[5]))
	if err != nil {
		h.logger.Error(ctx, "Invalid response format for read device identification: %v", err)
		return nil, err
	}

	result := &common.DeviceIdentification{
		ReadDeviceIDCode: common.ReadDeviceIDCode(data[1]),
		ConformityLevel:  data[2],
		MoreFollows:      data[3] != 0,
		NextObjectID:     common.DeviceIDObjectCode(data[4]),
		NumberOfObjects:  data[5],
		Objects:          objects,
	}

	h.logger.Debug(ctx, "Parsed read device identification response: %d objects", len(result.Objects))
	return result, nil
}
