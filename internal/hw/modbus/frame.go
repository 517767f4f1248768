package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	mbapLen    = 7
	maxADULen  = 260
	protocolID = 0x0000
)

// Modbus Function Codes
const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	exceptionFlag = 0x80
)

// Frame is one Modbus TCP ADU: MBAP header, function code and data.
type Frame struct {
	TransactionID uint16 // Request/Response Korrelation
	UnitID        uint8  // Slave Address
	FunctionCode  uint8
	Data          []byte
}

// Encode serialises the frame. The MBAP length field covers UnitID,
// function code and data.
func (f *Frame) Encode() []byte {
	buf := make([]byte, mbapLen+1+len(f.Data))
	binary.BigEndian.PutUint16(buf[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], protocolID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.Data)+2))
	buf[6] = f.UnitID
	buf[7] = f.FunctionCode
	copy(buf[8:], f.Data)
	return buf
}

// DecodeFrame parses a complete ADU.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < mbapLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if pid := binary.BigEndian.Uint16(data[2:4]); pid != protocolID {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", pid)
	}
	length := int(binary.BigEndian.Uint16(data[4:6]))
	if length < 2 || mbapLen-1+length != len(data) {
		return nil, fmt.Errorf("length field %d does not match frame of %d bytes", length, len(data))
	}

	f := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}
	if len(data) > mbapLen+1 {
		f.Data = append([]byte(nil), data[8:]...)
	}
	return f, nil
}

// ExceptionError is returned when the slave answers with an exception PDU.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X", e.Code, e.FunctionCode)
}

// Exception returns the exception carried by f, if any.
func (f *Frame) Exception() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{FunctionCode: f.FunctionCode &^ exceptionFlag, Code: code}
}

// ReadHoldingRegistersRequest baut den Request für Function Code 0x03
func ReadHoldingRegistersRequest(unitID uint8, startAddr, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeReadHoldingRegisters, Data: data}
}

// WriteSingleRegisterRequest baut den Request für Function Code 0x06
func WriteSingleRegisterRequest(unitID uint8, addr, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteSingleRegister, Data: data}
}

// WriteSingleCoilRequest baut den Request für Function Code 0x05
func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	if on {
		binary.BigEndian.PutUint16(data[2:4], 0xFF00)
	}
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteSingleCoil, Data: data}
}

// WriteMultipleRegistersRequest baut den Request für Function Code 0x10
func WriteMultipleRegistersRequest(unitID uint8, startAddr uint16, values []uint16) *Frame {
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}
}

// ParseRegisterResponse decodes the byte-count prefixed register payload of
// a 0x03 response.
func (f *Frame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}
	byteCount := int(f.Data[0])
	if byteCount%2 != 0 || len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}
	registers := make([]uint16, byteCount/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(f.Data[1+2*i:])
	}
	return registers, nil
}
