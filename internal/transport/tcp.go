package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/devrev/pairdb/offload-engine/internal/model"
	"go.uber.org/zap"
)

// Wire format: each frame is [type (1)][length (4, big endian)][payload].
// A segment is a sequence of data frames followed by one commit frame;
// the receiver answers the commit with a single status byte.
const (
	frameData           byte = 0x01
	frameCompressedData byte = 0x02
	frameCommit         byte = 0x03

	statusOK               byte = 0x00
	statusChecksumMismatch byte = 0x01

	maxFrameSize = 64 * 1024 * 1024
)

// TCPDialer opens raw TCP transfer channels to target nodes
type TCPDialer struct {
	logger *zap.Logger
}

// NewTCPDialer creates a TCP dialer
func NewTCPDialer(logger *zap.Logger) *TCPDialer {
	return &TCPDialer{logger: logger}
}

// Dial connects to the node's transfer port. Connection establishment
// is bounded by the deadline carried on ctx.
func (d *TCPDialer) Dial(ctx context.Context, node model.TargetNode) (Channel, error) {
	addr := fmt.Sprintf("%s:%d", node.Host, node.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	d.logger.Debug("Transfer channel opened",
		zap.String("node_id", node.NodeID),
		zap.String("address", addr))

	return &tcpChannel{conn: conn}, nil
}

// tcpChannel streams one segment over a TCP connection
type tcpChannel struct {
	conn net.Conn
}

func (c *tcpChannel) Send(ctx context.Context, chunk []byte, compressed bool) error {
	frameType := frameData
	if compressed {
		frameType = frameCompressedData
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	return writeFrame(c.conn, frameType, chunk)
}

func (c *tcpChannel) Commit(ctx context.Context, crc uint32, verify bool) error {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload, crc)
	if verify {
		payload[4] = 1
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	if err := writeFrame(c.conn, frameCommit, payload); err != nil {
		return fmt.Errorf("failed to send commit: %w", err)
	}

	var status [1]byte
	if _, err := io.ReadFull(c.conn, status[:]); err != nil {
		return fmt.Errorf("failed to read commit ack: %w", err)
	}
	if status[0] == statusChecksumMismatch {
		return fmt.Errorf("remote checksum mismatch for crc %d", crc)
	}
	if status[0] != statusOK {
		return fmt.Errorf("remote rejected segment with status %d", status[0])
	}

	return nil
}

func (c *tcpChannel) Close() error {
	return c.conn.Close()
}

// writeFrame writes a single framed payload
func writeFrame(w io.Writer, frameType byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = frameType
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads a single framed payload
func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("frame size %d exceeds maximum %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}
