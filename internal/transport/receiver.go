package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/devrev/pairdb/offload-engine/internal/util"
	"go.uber.org/zap"
)

// SegmentHandler receives the reassembled payload of a committed
// segment on the target side.
type SegmentHandler func(payload []byte)

// Receiver is the target-side counterpart of the TCP channel. It
// accepts one segment per connection, decompresses compressed frames,
// verifies the committed checksum and acknowledges the sender.
type Receiver struct {
	listener net.Listener
	handler  SegmentHandler
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewReceiver starts a receiver on the given address. Pass ":0" to let
// the OS pick a port (Addr reports the bound address).
func NewReceiver(addr string, handler SegmentHandler, logger *zap.Logger) (*Receiver, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := &Receiver{
		listener: listener,
		handler:  handler,
		logger:   logger,
	}

	r.wg.Add(1)
	go r.acceptLoop()

	logger.Info("Transfer receiver listening", zap.String("address", listener.Addr().String()))
	return r, nil
}

// Addr returns the bound listen address
func (r *Receiver) Addr() net.Addr {
	return r.listener.Addr()
}

// Close stops accepting and waits for in-flight segments to drain
func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	err := r.listener.Close()
	r.wg.Wait()
	return err
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.logger.Warn("Accept failed", zap.Error(err))
			}
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer conn.Close()
			if err := r.handleConn(conn); err != nil {
				r.logger.Debug("Segment receive failed", zap.Error(err))
			}
		}()
	}
}

// handleConn reads data frames until the commit frame, then verifies
// and acknowledges.
func (r *Receiver) handleConn(conn net.Conn) error {
	var payload []byte
	var acc util.ChecksumAccumulator

	for {
		frameType, frame, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		switch frameType {
		case frameData:
			payload = append(payload, frame...)
			acc.Write(frame)

		case frameCompressedData:
			chunk, err := util.DecompressChunk(frame)
			if err != nil {
				return err
			}
			payload = append(payload, chunk...)
			acc.Write(chunk)

		case frameCommit:
			if len(frame) != 5 {
				return fmt.Errorf("malformed commit frame of %d bytes", len(frame))
			}
			crc := uint32(frame[0])<<24 | uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])
			verify := frame[4] == 1

			if verify && acc.Sum() != crc {
				conn.Write([]byte{statusChecksumMismatch})
				return fmt.Errorf("checksum mismatch: expected %d, got %d", crc, acc.Sum())
			}

			if r.handler != nil {
				r.handler(payload)
			}
			_, err := conn.Write([]byte{statusOK})
			return err

		default:
			return fmt.Errorf("unknown frame type %d", frameType)
		}
	}
}
