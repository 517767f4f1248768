package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus TCP master holding a single connection. Requests are
// serialised; a failed exchange drops the connection so the next call redials.
type Client struct {
	address       string
	timeout       time.Duration
	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
}

func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Client{address: address, timeout: timeout}
}

// Connect stellt die TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.address, err)
	}
	c.conn = conn
	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send exchanges one request/response pair.
func (c *Client) Send(ctx context.Context, req *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.transactionID++
	req.TransactionID = c.transactionID

	resp, err := c.exchange(ctx, req)
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return nil, err
	}
	if resp.TransactionID != req.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d", req.TransactionID, resp.TransactionID)
	}
	if err := resp.Exception(); err != nil {
		return nil, err
	}
	if resp.FunctionCode != req.FunctionCode {
		return nil, fmt.Errorf("function code mismatch: expected 0x%02X, got 0x%02X", req.FunctionCode, resp.FunctionCode)
	}
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, req *Frame) (*Frame, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.conn.Write(req.Encode()); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, mbapLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read header failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapLen-1+length > maxADULen {
		return nil, fmt.Errorf("invalid length field: %d", length)
	}
	adu := make([]byte, mbapLen-1+length)
	copy(adu, header)
	if _, err := io.ReadFull(c.conn, adu[mbapLen:]); err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	return DecodeFrame(adu)
}

// ReadHoldingRegisters liest Holding Registers
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error) {
	resp, err := c.Send(ctx, ReadHoldingRegistersRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}
	regs, err := resp.ParseRegisterResponse()
	if err != nil {
		return nil, err
	}
	if len(regs) != int(quantity) {
		return nil, fmt.Errorf("expected %d registers, got %d", quantity, len(regs))
	}
	return regs, nil
}

// WriteSingleRegister schreibt ein einzelnes Register
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error {
	_, err := c.Send(ctx, WriteSingleRegisterRequest(unitID, addr, value))
	return err
}

// WriteMultipleRegisters schreibt einen zusammenhängenden Registerblock
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID uint8, startAddr uint16, values []uint16) error {
	_, err := c.Send(ctx, WriteMultipleRegistersRequest(unitID, startAddr, values))
	return err
}

// WriteSingleCoil setzt eine einzelne Coil
func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	_, err := c.Send(ctx, WriteSingleCoilRequest(unitID, addr, on))
	return err
}
