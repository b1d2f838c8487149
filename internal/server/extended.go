package server

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// preparedStatement is one Parse result in the session's statement cache.
type preparedStatement struct {
	name      string
	sql       string
	paramOIDs []int32
}

// portal ties a prepared statement to concrete parameter values.
type portal struct {
	stmt *preparedStatement
	sql  string // parameters already substituted
}

// handleExtended drives the extended-query state machine. An error is
// reported as an ErrorResponse; the session does not skip ahead to Sync, so
// the messages that follow it are still processed.
func (sess *session) handleExtended(msg *message) error {
	switch msg.typ {
	case msgParse:
		return sess.handleParse(msg.body)
	case msgBind:
		return sess.handleBindMsg(msg.body)
	case msgDescribe:
		return sess.handleDescribe(msg.body)
	case msgExecute:
		return sess.handleExecute(msg.body)
	case msgClose:
		return sess.handleCloseMsg(msg.body)
	case msgSync:
		return sess.ww.readyForQuery(sess.state.statusByte())
	case msgFlush:
		return sess.ww.flush()
	}
	return nil
}

func (sess *session) handleParse(body []byte) error {
	name, rest := takeCString(body)
	sql, rest := takeCString(rest)
	if len(rest) < 2 {
		sess.sendError("malformed Parse message")
		return sess.ww.flush()
	}
	n := int(int16(binary.BigEndian.Uint16(rest)))
	rest = rest[2:]
	oids := make([]int32, 0, n)
	for i := 0; i < n && len(rest) >= 4; i++ {
		oids = append(oids, int32(binary.BigEndian.Uint32(rest)))
		rest = rest[4:]
	}
	sess.prepared[name] = &preparedStatement{name: name, sql: sql, paramOIDs: oids}
	return sess.ww.parseComplete()
}

func (sess *session) handleBindMsg(body []byte) error {
	portalName, rest := takeCString(body)
	stmtName, rest := takeCString(rest)

	stmt, ok := sess.prepared[stmtName]
	if !ok {
		sess.sendError(fmt.Sprintf("prepared statement %q does not exist", stmtName))
		return sess.ww.flush()
	}

	if len(rest) < 2 {
		sess.sendError("malformed Bind message")
		return sess.ww.flush()
	}
	numFormats := int(int16(binary.BigEndian.Uint16(rest)))
	rest = rest[2:]
	formats := make([]int16, 0, numFormats)
	for i := 0; i < numFormats && len(rest) >= 2; i++ {
		formats = append(formats, int16(binary.BigEndian.Uint16(rest)))
		rest = rest[2:]
	}

	if len(rest) < 2 {
		sess.sendError("malformed Bind message")
		return sess.ww.flush()
	}
	numParams := int(int16(binary.BigEndian.Uint16(rest)))
	rest = rest[2:]

	params := make([]*[]byte, 0, numParams)
	for i := 0; i < numParams; i++ {
		if len(rest) < 4 {
			sess.sendError("malformed Bind parameter")
			return sess.ww.flush()
		}
		ln := int32(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if ln < 0 {
			params = append(params, nil)
			continue
		}
		if len(rest) < int(ln) {
			sess.sendError("malformed Bind parameter payload")
			return sess.ww.flush()
		}
		val := append([]byte(nil), rest[:ln]...)
		rest = rest[ln:]
		params = append(params, &val)
	}

	sql, err := substituteParams(stmt, params, formats)
	if err != nil {
		sess.sendError(err.Error())
		return sess.ww.flush()
	}
	sess.portals[portalName] = &portal{stmt: stmt, sql: sql}
	return sess.ww.bindComplete()
}

func (sess *session) handleDescribe(body []byte) error {
	if len(body) < 1 {
		sess.sendError("malformed Describe message")
		return sess.ww.flush()
	}
	kind := body[0]
	name, _ := takeCString(body[1:])
	switch kind {
	case 'S':
		stmt, ok := sess.prepared[name]
		if !ok {
			sess.sendError(fmt.Sprintf("prepared statement %q does not exist", name))
			return sess.ww.flush()
		}
		if err := sess.ww.parameterDescription(stmt.paramOIDs); err != nil {
			return err
		}
		return sess.ww.noData()
	case 'P':
		if _, ok := sess.portals[name]; !ok {
			sess.sendError(fmt.Sprintf("portal %q does not exist", name))
			return sess.ww.flush()
		}
		return sess.ww.noData()
	default:
		sess.sendError(fmt.Sprintf("bad Describe kind %q", kind))
		return sess.ww.flush()
	}
}

func (sess *session) handleExecute(body []byte) error {
	name, rest := takeCString(body)
	_ = rest // max_rows is read but unlimited execution is fine for us

	p, ok := sess.portals[name]
	if !ok {
		sess.sendError(fmt.Sprintf("portal %q does not exist", name))
		return sess.ww.flush()
	}

	res, err := sess.runStatement(p.sql)
	if err != nil {
		sess.sendError(err.Error())
		return sess.ww.flush()
	}
	return sess.streamResult(res)
}

func (sess *session) handleCloseMsg(body []byte) error {
	if len(body) < 1 {
		sess.sendError("malformed Close message")
		return sess.ww.flush()
	}
	kind := body[0]
	name, _ := takeCString(body[1:])
	switch kind {
	case 'S':
		delete(sess.prepared, name)
	case 'P':
		delete(sess.portals, name)
	}
	return sess.ww.closeComplete()
}

func takeCString(b []byte) (string, []byte) {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i]), b[i+1:]
	}
	return string(b), nil
}

// Common parameter type OIDs.
const (
	oidBool        = 16
	oidBytea       = 17
	oidInt8        = 20
	oidInt2        = 21
	oidInt4        = 23
	oidText        = 25
	oidFloat4      = 700
	oidFloat8      = 701
	oidVarchar     = 1043
	oidBpchar      = 1042
	oidDate        = 1082
	oidTimestamp   = 1114
	oidTimestampTz = 1184
	oidNumeric     = 1700
	oidUuid        = 2950
)

// substituteParams inlines $1..$n into the SQL text per type: numbers
// inline, text single-quoted with doubled inner quotes, booleans TRUE or
// FALSE, dates and uuids quoted, bytea as hex, NULL as NULL.
func substituteParams(stmt *preparedStatement, params []*[]byte, formats []int16) (string, error) {
	sql := stmt.sql
	for i := len(params); i >= 1; i-- {
		raw := params[i-1]
		oid := int32(oidText)
		if i-1 < len(stmt.paramOIDs) {
			oid = stmt.paramOIDs[i-1]
		}
		format := int16(0)
		if len(formats) == 1 {
			format = formats[0]
		} else if i-1 < len(formats) {
			format = formats[i-1]
		}

		rendered, err := renderParam(raw, oid, format)
		if err != nil {
			return "", fmt.Errorf("parameter $%d: %w", i, err)
		}
		sql = strings.ReplaceAll(sql, fmt.Sprintf("$%d", i), rendered)
	}
	return sql, nil
}

func renderParam(raw *[]byte, oid int32, format int16) (string, error) {
	if raw == nil {
		return "NULL", nil
	}
	val := *raw

	if format == 1 {
		// Binary format: decode the common numeric and boolean encodings.
		switch oid {
		case oidInt2:
			if len(val) != 2 {
				return "", fmt.Errorf("bad int2 length %d", len(val))
			}
			return strconv.FormatInt(int64(int16(binary.BigEndian.Uint16(val))), 10), nil
		case oidInt4:
			if len(val) != 4 {
				return "", fmt.Errorf("bad int4 length %d", len(val))
			}
			return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(val))), 10), nil
		case oidInt8:
			if len(val) != 8 {
				return "", fmt.Errorf("bad int8 length %d", len(val))
			}
			return strconv.FormatInt(int64(binary.BigEndian.Uint64(val)), 10), nil
		case oidBool:
			if len(val) != 1 {
				return "", fmt.Errorf("bad bool length %d", len(val))
			}
			if val[0] != 0 {
				return "TRUE", nil
			}
			return "FALSE", nil
		case oidBytea:
			return fmt.Sprintf("'\\x%x'", val), nil
		default:
			return "", fmt.Errorf("binary parameter format unsupported for oid %d", oid)
		}
	}

	text := string(val)
	switch oid {
	case oidInt2, oidInt4, oidInt8:
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			return "", fmt.Errorf("invalid integer %q", text)
		}
		return text, nil
	case oidFloat4, oidFloat8, oidNumeric:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return "", fmt.Errorf("invalid number %q", text)
		}
		return text, nil
	case oidBool:
		switch strings.ToLower(text) {
		case "t", "true", "1", "yes", "on":
			return "TRUE", nil
		default:
			return "FALSE", nil
		}
	case oidBytea:
		if strings.HasPrefix(text, "\\x") {
			return "'" + text + "'", nil
		}
		return fmt.Sprintf("'\\x%x'", val), nil
	case oidDate, oidTimestamp, oidTimestampTz, oidUuid:
		return quoteLiteral(text), nil
	default:
		return quoteLiteral(text), nil
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
