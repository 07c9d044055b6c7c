// Grounded on the teacher's internal/network/network_manager.go accept
// loop, handleConnection, and BroadcastMessage/SendToPeer pattern:
// net.Listen + a goroutine-per-connection read loop. The teacher frames
// messages as newline-delimited JSON; TCPTransport instead reads the
// self-describing binary frame of spec §4.H directly off the connection,
// since the frame already carries its own payload length.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/synckit/core/internal/errs"
	"github.com/synckit/core/internal/observability/logging"
)

const frameHeaderSize = 13 // type(1) + timestamp(8) + payloadLen(4)

// TCPTransport is one concrete Transport adapter over a raw net.Conn.
type TCPTransport struct {
	base
	conn   net.Conn
	logger *logging.Logger

	writeMu sync.Mutex
}

// NewTCPTransport wraps an already-established net.Conn (either accepted
// by Listen or returned by Dial) and starts its read loop. logger may be
// nil (a Nop logger is substituted).
func NewTCPTransport(conn net.Conn, logger *logging.Logger) *TCPTransport {
	if logger == nil {
		logger = logging.Nop()
	}
	t := &TCPTransport{conn: conn, logger: logger}
	t.setState(Open)
	go t.readLoop()
	t.fireOpen()
	return t
}

// Dial connects to addr and returns a TCPTransport over the new connection.
func Dial(addr string, logger *logging.Logger) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errs.New(errs.TransportFailure, "transport.Dial", err)
	}
	return NewTCPTransport(conn, logger), nil
}

// Listener wraps a net.Listener and hands each accepted connection to cb as
// a TCPTransport, mirroring the teacher's acceptConnections loop.
type Listener struct {
	ln     net.Listener
	logger *logging.Logger
}

// Listen starts accepting TCP connections on addr. cb is invoked once per
// accepted connection, in its own goroutine.
func Listen(addr string, logger *logging.Logger, cb func(*TCPTransport)) (*Listener, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.New(errs.TransportFailure, "transport.Listen", err)
	}
	l := &Listener{ln: ln, logger: logger}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go cb(NewTCPTransport(conn, logger))
		}
	}()
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }

// Send writes one self-describing frame; callers are expected to have
// already encoded data via wire.EncodeBinary.
func (t *TCPTransport) Send(data []byte) error {
	if t.State() == Closed {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(data)
	if err != nil {
		return errs.New(errs.TransportFailure, "transport.Send", err)
	}
	return nil
}

func (t *TCPTransport) Close() error {
	t.setState(Closing)
	err := t.conn.Close()
	t.setState(Closed)
	t.fireClose()
	return err
}

func (t *TCPTransport) readLoop() {
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			if t.State() != Closed {
				t.logger.Warn("transport read error", zap.Error(err))
			}
			t.Close()
			return
		}
		payloadLen := binary.BigEndian.Uint32(header[9:13])
		frame := make([]byte, frameHeaderSize+int(payloadLen))
		copy(frame, header)
		if payloadLen > 0 {
			if _, err := io.ReadFull(t.conn, frame[frameHeaderSize:]); err != nil {
				t.logger.Warn("transport payload read error", zap.Error(err))
				t.Close()
				return
			}
		}
		t.fireMessage(frame)
	}
}
