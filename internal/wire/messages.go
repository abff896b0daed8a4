package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/dreamware/torua-sql/internal/dispatcher"
	"github.com/dreamware/torua-sql/internal/types"
)

// writeMessage frames payload behind tag and a big-endian int32 length
// that includes itself, the shape every backend message in this protocol
// shares.
func (s *Session) writeMessage(tag byte, payload []byte) error {
	if _, err := s.w.Write([]byte{tag}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+4))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := s.w.Write(payload)
	return err
}

func (s *Session) writeAuthenticationOk() error {
	var buf bytes.Buffer
	writeInt32(&buf, 0)
	return s.writeMessage('R', buf.Bytes())
}

func (s *Session) writeParameterStatus(key, value string) error {
	var buf bytes.Buffer
	buf.WriteString(key)
	buf.WriteByte(0)
	buf.WriteString(value)
	buf.WriteByte(0)
	return s.writeMessage('S', buf.Bytes())
}

func (s *Session) writeBackendKeyData() error {
	var buf bytes.Buffer
	writeInt32(&buf, pid())
	writeInt32(&buf, randomSecret())
	return s.writeMessage('K', buf.Bytes())
}

func (s *Session) writeReadyForQuery(txStatus byte) error {
	return s.writeMessage('Z', []byte{txStatus})
}

func (s *Session) writeEmptyQueryResponse() error {
	return s.writeMessage('I', nil)
}

func (s *Session) writeCommandComplete(tag string) error {
	var buf bytes.Buffer
	buf.WriteString(tag)
	buf.WriteByte(0)
	return s.writeMessage('C', buf.Bytes())
}

// writeErrorResponse reports err as an ErrorResponse with severity ERROR,
// matching §4.7/§7's single-severity error model (no SQLSTATE mapping
// beyond the plain message text).
func (s *Session) writeErrorResponse(err error) error {
	var buf bytes.Buffer
	buf.WriteByte('S')
	buf.WriteString("ERROR")
	buf.WriteByte(0)
	buf.WriteByte('M')
	buf.WriteString(err.Error())
	buf.WriteByte(0)
	buf.WriteByte(0)
	return s.writeMessage('E', buf.Bytes())
}

// writeRowDescription emits one field descriptor per column: name,
// table-oid 0, attribute-number 0, type-oid, type-size, type-modifier 0,
// format code 0 (text), per §4.7.
func (s *Session) writeRowDescription(columns []dispatcher.Column) error {
	var buf bytes.Buffer
	writeInt16(&buf, int16(len(columns)))
	for _, c := range columns {
		buf.WriteString(c.Name)
		buf.WriteByte(0)
		writeInt32(&buf, 0)             // table OID
		writeInt16(&buf, 0)             // attribute number
		writeInt32(&buf, c.Type.ToPGOID())
		writeInt16(&buf, c.Type.ToPGSize())
		writeInt32(&buf, 0) // type modifier
		writeInt16(&buf, 0) // format code: text
	}
	return s.writeMessage('T', buf.Bytes())
}

// writeDataRow emits one row as length-prefixed text cells.
func (s *Session) writeDataRow(row []types.Datum) error {
	var buf bytes.Buffer
	writeInt16(&buf, int16(len(row)))
	for _, d := range row {
		text := []byte(d.Text())
		writeInt32(&buf, int32(len(text)))
		buf.Write(text)
	}
	return s.writeMessage('D', buf.Bytes())
}

func writeInt16(buf *bytes.Buffer, v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}
