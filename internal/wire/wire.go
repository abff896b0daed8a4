// Package wire implements the PostgreSQL v3 simple-query wire session
// (§4.7): a small state machine over a net.Conn that speaks just enough of
// the frontend/backend protocol to negotiate a plaintext connection and
// answer simple queries. No pack library implements the server side of
// this protocol (jackc/pgx is a client driver), so this package is
// hand-rolled against the wire-format constants the spec names directly.
package wire

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"

	"github.com/dreamware/torua-sql/internal/ast"
	"github.com/dreamware/torua-sql/internal/dberrors"
	"github.com/dreamware/torua-sql/internal/dispatcher"
	"github.com/dreamware/torua-sql/internal/logging"
	"github.com/dreamware/torua-sql/internal/metrics"
)

const sslRequestCode = 80877103

// state names the session's position in the handshake/query state machine.
type state int

const (
	stateStartUp state = iota
	stateNoSSLAcknowledged
	stateReadyForQuery
)

// ParseFunc turns a raw SQL string into the parse tree the dispatcher
// consumes. Parsing itself is an external collaborator (§1); production
// wiring supplies a real parser, tests supply a table-driven stub.
type ParseFunc func(sql string) (*ast.Statement, error)

// Session drives one client connection through StartUp, the SSL/Startup
// handshake, and the simple-query loop until Terminate or an I/O error.
type Session struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	parse  ParseFunc
	disp   *dispatcher.Dispatcher
	state  state
}

// NewSession wraps conn for one client, dispatching parsed statements to
// disp via parse.
func NewSession(conn net.Conn, parse ParseFunc, disp *dispatcher.Dispatcher) *Session {
	return &Session{
		conn:  conn,
		r:     bufio.NewReader(conn),
		w:     bufio.NewWriter(conn),
		parse: parse,
		disp:  disp,
		state: stateStartUp,
	}
}

// Serve runs the session to completion, returning nil on a clean
// Terminate and a non-nil error on any protocol or I/O fault.
func (s *Session) Serve(ctx context.Context) error {
	metrics.WireSessionsActive.Inc()
	defer metrics.WireSessionsActive.Dec()
	defer s.conn.Close()

	if err := s.handshake(); err != nil {
		logger.Warn().Err(err).Str("remote", s.conn.RemoteAddr().String()).Msg("wire handshake failed")
		return err
	}

	for {
		tag, body, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			logger.Warn().Err(err).Msg("wire read failed")
			return err
		}

		switch tag {
		case 'Q':
			if err := s.handleQuery(ctx, body); err != nil {
				logger.Warn().Err(err).Msg("wire query handling failed")
				return err
			}
		case 'X':
			return nil
		default:
			err := dberrors.Protocolf("unexpected message type %q in ReadyForQuery", tag)
			logger.Warn().Err(err).Msg("wire protocol violation")
			return err
		}
	}
}

// handshake performs StartUp -> NoSSLAcknowledged -> ReadyForQuery (§4.7).
func (s *Session) handshake() error {
	length, err := s.readInt32()
	if err != nil {
		return err
	}
	code, err := s.readInt32()
	if err != nil {
		return err
	}
	if length != 8 || code != sslRequestCode {
		return dberrors.Protocolf("expected SSL request packet, got length=%d code=%d", length, code)
	}
	if _, err := s.w.Write([]byte{'N'}); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.state = stateNoSSLAcknowledged

	if _, err := s.readStartupMessage(); err != nil {
		return err
	}

	if err := s.writeAuthenticationOk(); err != nil {
		return err
	}
	for _, kv := range [][2]string{
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO YMD"},
		{"integer_datetimes", "on"},
		{"server_version", "17.0"},
	} {
		if err := s.writeParameterStatus(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if err := s.writeBackendKeyData(); err != nil {
		return err
	}
	if err := s.writeReadyForQuery('I'); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.state = stateReadyForQuery
	return nil
}

// readStartupMessage consumes the length-prefixed StartupMessage body
// (protocol version int32 then NUL-terminated key/value pairs ending in an
// extra NUL); the key/value pairs themselves are not consulted, matching
// the unconditional-success auth model (§1 Non-goals).
func (s *Session) readStartupMessage() ([]byte, error) {
	length, err := s.readInt32()
	if err != nil {
		return nil, err
	}
	if length < 4 {
		return nil, dberrors.Protocolf("invalid StartupMessage length %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Session) handleQuery(ctx context.Context, body []byte) error {
	sql := stripTrailingNUL(body)

	stmt, err := s.parse(sql)
	if err != nil {
		metrics.WireQueriesTotal.WithLabelValues("error").Inc()
		if err := s.writeErrorResponse(err); err != nil {
			return err
		}
		return s.finishQuery()
	}

	result, err := s.disp.HandleStatement(ctx, stmt)
	if err != nil {
		metrics.WireQueriesTotal.WithLabelValues("error").Inc()
		if err := s.writeErrorResponse(err); err != nil {
			return err
		}
		return s.finishQuery()
	}
	metrics.WireQueriesTotal.WithLabelValues("ok").Inc()

	if len(result.Columns) == 0 {
		if err := s.writeEmptyQueryResponse(); err != nil {
			return err
		}
		return s.finishQuery()
	}

	if err := s.writeRowDescription(result.Columns); err != nil {
		return err
	}
	for _, row := range result.Rows {
		if err := s.writeDataRow(row); err != nil {
			return err
		}
	}
	if err := s.writeCommandComplete(fmt.Sprintf("SELECT %d", len(result.Rows))); err != nil {
		return err
	}
	return s.finishQuery()
}

func (s *Session) finishQuery() error {
	if err := s.writeReadyForQuery('I'); err != nil {
		return err
	}
	return s.w.Flush()
}

func stripTrailingNUL(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}

// readMessage reads one tagged, length-prefixed message from the
// ReadyForQuery loop: a 1-byte tag, a 4-byte length (including itself),
// and the remaining body.
func (s *Session) readMessage() (byte, []byte, error) {
	tag, err := s.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	length, err := s.readInt32()
	if err != nil {
		return 0, nil, err
	}
	if length < 4 {
		return 0, nil, dberrors.Protocolf("invalid message length %d for tag %q", length, tag)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return 0, nil, err
	}
	return tag, body, nil
}

func (s *Session) readInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func randomSecret() int32 {
	return rand.Int31()
}

func pid() int32 {
	return int32(os.Getpid())
}

var logger = logging.Component("wire")
