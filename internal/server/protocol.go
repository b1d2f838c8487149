// Package server implements the PostgreSQL v3 wire front-end: startup and
// authentication, the simple-query loop, the extended-query state machine,
// session admin statements, the binary COPY codec, and snapshot-based
// persistence of the server instance.
//
// What: One TCP listener; one goroutine per connection; sessions route
// parsed statements to the executor and translate errors to wire messages.
// How: Messages are length-prefixed frames read with io.ReadFull and
// written through a small writer with big-endian codecs. The server
// instance, the storage facade, and the WAL each sit behind one lock.
// Why: Keeping every byte-level concern here leaves the engine free of
// network details.
package server

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Protocol constants.
const (
	protocolVersion3 = 196608   // 3.0
	sslRequestCode   = 80877103 // SSLRequest magic
	cancelRequest    = 80877102 // CancelRequest magic
)

// Backend message type bytes.
const (
	msgAuthentication     = 'R'
	msgParameterStatus    = 'S'
	msgBackendKeyData     = 'K'
	msgReadyForQuery      = 'Z'
	msgRowDescription     = 'T'
	msgDataRow            = 'D'
	msgCommandComplete    = 'C'
	msgErrorResponse      = 'E'
	msgEmptyQueryResponse = 'I'
	msgParseComplete      = '1'
	msgBindComplete       = '2'
	msgCloseComplete      = '3'
	msgNoData             = 'n'
	msgParameterDesc      = 't'
)

// Frontend message type bytes.
const (
	msgQuery     = 'Q'
	msgPassword  = 'p'
	msgParse     = 'P'
	msgBind      = 'B'
	msgDescribe  = 'D'
	msgExecute   = 'E'
	msgClose     = 'C'
	msgSync      = 'S'
	msgFlush     = 'H'
	msgTerminate = 'X'
)

// Transaction status bytes for ReadyForQuery.
const (
	statusIdle          = 'I'
	statusInTransaction = 'T'
	statusFailed        = 'E'
)

// message is one framed frontend message.
type message struct {
	typ  byte
	body []byte
}

// readStartup reads the length-prefixed startup packet (no type byte).
func readStartup(r io.Reader) (code uint32, body []byte, err error) {
	var head [4]byte
	if _, err = io.ReadFull(r, head[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(head[:])
	if length < 8 || length > 1<<20 {
		return 0, nil, fmt.Errorf("malformed startup packet length %d", length)
	}
	body = make([]byte, length-4)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint32(body[:4]), body[4:], nil
}

// parseStartupParams decodes the NUL-separated key/value pairs.
func parseStartupParams(body []byte) map[string]string {
	params := make(map[string]string)
	for len(body) > 0 {
		keyEnd := indexByte(body, 0)
		if keyEnd <= 0 {
			break
		}
		key := string(body[:keyEnd])
		body = body[keyEnd+1:]
		valEnd := indexByte(body, 0)
		if valEnd < 0 {
			break
		}
		params[key] = string(body[:valEnd])
		body = body[valEnd+1:]
	}
	return params
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// readMessage reads one typed frontend message.
func readMessage(r io.Reader) (*message, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(head[1:])
	if length < 4 || length > 64<<20 {
		return nil, fmt.Errorf("malformed message length %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &message{typ: head[0], body: body}, nil
}

// wireWriter assembles and flushes backend messages.
type wireWriter struct {
	w *bufio.Writer
}

func newWireWriter(w io.Writer) *wireWriter {
	return &wireWriter{w: bufio.NewWriter(w)}
}

func (ww *wireWriter) flush() error { return ww.w.Flush() }

// writeMsg frames one message: type byte, int32 length, body.
func (ww *wireWriter) writeMsg(typ byte, body []byte) error {
	if err := ww.w.WriteByte(typ); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)+4))
	if _, err := ww.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := ww.w.Write(body)
	return err
}

func (ww *wireWriter) writeByteRaw(b byte) error {
	if err := ww.w.WriteByte(b); err != nil {
		return err
	}
	return ww.w.Flush()
}

// Body builders.

func appendInt32(b []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(b, buf[:]...)
}

func appendInt16(b []byte, v int16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	return append(b, buf[:]...)
}

func appendCString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

func (ww *wireWriter) authenticationOk() error {
	return ww.writeMsg(msgAuthentication, appendInt32(nil, 0))
}

func (ww *wireWriter) authenticationCleartext() error {
	return ww.writeMsg(msgAuthentication, appendInt32(nil, 3))
}

func (ww *wireWriter) parameterStatus(key, value string) error {
	body := appendCString(nil, key)
	body = appendCString(body, value)
	return ww.writeMsg(msgParameterStatus, body)
}

func (ww *wireWriter) backendKeyData(pid, secret int32) error {
	body := appendInt32(nil, pid)
	body = appendInt32(body, secret)
	return ww.writeMsg(msgBackendKeyData, body)
}

func (ww *wireWriter) readyForQuery(status byte) error {
	if err := ww.writeMsg(msgReadyForQuery, []byte{status}); err != nil {
		return err
	}
	return ww.flush()
}

// rowDescription sends the header for a result set; every column is typed
// text (oid 25) since values travel in text format.
func (ww *wireWriter) rowDescription(columns []string) error {
	body := appendInt16(nil, int16(len(columns)))
	for _, name := range columns {
		body = appendCString(body, name)
		body = appendInt32(body, 0)  // table oid
		body = appendInt16(body, 0)  // attnum
		body = appendInt32(body, 25) // type oid: text
		body = appendInt16(body, -1) // typlen
		body = appendInt32(body, -1) // atttypmod
		body = appendInt16(body, 0)  // format: text
	}
	return ww.writeMsg(msgRowDescription, body)
}

// dataRow sends one row; nil cells are NULL.
func (ww *wireWriter) dataRow(cells []*string) error {
	body := appendInt16(nil, int16(len(cells)))
	for _, cell := range cells {
		if cell == nil {
			body = appendInt32(body, -1)
			continue
		}
		body = appendInt32(body, int32(len(*cell)))
		body = append(body, *cell...)
	}
	return ww.writeMsg(msgDataRow, body)
}

func (ww *wireWriter) commandComplete(tag string) error {
	return ww.writeMsg(msgCommandComplete, appendCString(nil, tag))
}

func (ww *wireWriter) emptyQueryResponse() error {
	return ww.writeMsg(msgEmptyQueryResponse, nil)
}

// errorResponse carries severity, SQLSTATE-ish code, and message.
func (ww *wireWriter) errorResponse(code, msg string) error {
	body := append([]byte{'S'}, appendCString(nil, "ERROR")...)
	body = append(body, 'C')
	body = appendCString(body, code)
	body = append(body, 'M')
	body = appendCString(body, msg)
	body = append(body, 0)
	return ww.writeMsg(msgErrorResponse, body)
}

func (ww *wireWriter) parseComplete() error { return ww.writeMsg(msgParseComplete, nil) }
func (ww *wireWriter) bindComplete() error  { return ww.writeMsg(msgBindComplete, nil) }
func (ww *wireWriter) closeComplete() error { return ww.writeMsg(msgCloseComplete, nil) }
func (ww *wireWriter) noData() error        { return ww.writeMsg(msgNoData, nil) }

func (ww *wireWriter) parameterDescription(oids []int32) error {
	body := appendInt16(nil, int16(len(oids)))
	for _, oid := range oids {
		body = appendInt32(body, oid)
	}
	return ww.writeMsg(msgParameterDesc, body)
}
