package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server is the wire front-end: it owns the cluster behind one lock and
// serves one goroutine per connection.
type Server struct {
	mu      sync.Mutex
	cluster *Cluster

	addr string
	log  *zap.Logger

	lock     *flock.Flock
	listener net.Listener

	// statements executed since the last checkpoint, for the
	// every-N-commits checkpoint policy.
	writesSinceCheckpoint int
}

// checkpointEveryWrites triggers a checkpoint after this many committed
// write statements, in addition to the scheduled checkpointer.
const checkpointEveryWrites = 64

// New builds a server around an opened cluster.
func New(cluster *Cluster, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cluster: cluster, addr: addr, log: log}
}

// ListenAndServe acquires the data-dir lock, listens, and serves until the
// context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.lock = flock.New(s.cluster.DataDir + string(os.PathSeparator) + ".minipg.lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is in use by another server", s.cluster.DataDir)
	}
	defer s.lock.Unlock()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			go s.serveConn(conn)
		}
	})
	err = g.Wait()
	if cerr := s.cluster.Close(); cerr != nil {
		s.log.Error("close cluster", zap.Error(cerr))
	}
	return err
}

// Addr returns the bound address (useful when listening on port 0).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// txState is the session transaction state machine.
type txState uint8

const (
	txIdle txState = iota
	txInProgress
	txFailed
)

func (t txState) statusByte() byte {
	switch t {
	case txInProgress:
		return statusInTransaction
	case txFailed:
		return statusFailed
	default:
		return statusIdle
	}
}

// session is one authenticated connection.
type session struct {
	srv *Server
	ww  *wireWriter

	username string
	dbName   string

	state    txState
	txID     uint64
	snapshot core.Snapshot
	// rollbackImage is the catalog as of BEGIN. ROLLBACK restores it and
	// physically undoes the transaction's heap writes.
	rollbackImage *core.Database

	prepared map[string]*preparedStatement
	portals  map[string]*portal
}

// serveConn handles one TCP connection for its whole life.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	ww := newWireWriter(conn)
	sess, err := s.handshake(conn, ww)
	if err != nil {
		if err != io.EOF {
			log.Debug("handshake failed", zap.Error(err))
		}
		return
	}
	log.Info("session started",
		zap.String("user", sess.username), zap.String("database", sess.dbName))

	for {
		msg, err := readMessage(conn)
		if err != nil {
			// EOF or broken pipe: roll back any open transaction.
			sess.abortOpenTransaction()
			if err != io.EOF {
				log.Debug("connection dropped", zap.Error(err))
			}
			return
		}
		switch msg.typ {
		case msgTerminate:
			sess.abortOpenTransaction()
			log.Info("session ended", zap.String("user", sess.username))
			return
		case msgQuery:
			sql := cstring(msg.body)
			if err := sess.handleSimpleQuery(sql); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case msgParse, msgBind, msgDescribe, msgExecute, msgClose, msgSync, msgFlush:
			if err := sess.handleExtended(msg); err != nil {
				log.Debug("extended protocol failed", zap.Error(err))
				return
			}
		default:
			sess.sendError(fmt.Sprintf("unsupported message type %q", msg.typ))
			ww.readyForQuery(sess.state.statusByte())
		}
	}
}

// handshake runs SSL negotiation, startup, and authentication.
func (s *Server) handshake(conn net.Conn, ww *wireWriter) (*session, error) {
	code, body, err := readStartup(conn)
	if err != nil {
		return nil, err
	}
	if code == sslRequestCode {
		// No SSL; the client retries startup in the clear.
		if err := ww.writeByteRaw('N'); err != nil {
			return nil, err
		}
		code, body, err = readStartup(conn)
		if err != nil {
			return nil, err
		}
	}
	if code == cancelRequest {
		return nil, fmt.Errorf("cancel request on fresh connection")
	}
	if code != protocolVersion3 {
		return nil, fmt.Errorf("unsupported protocol version %d", code)
	}

	params := parseStartupParams(body)
	username := params["user"]
	dbName := params["database"]
	if dbName == "" {
		dbName = username
	}

	password := params["password"]
	if password == "" {
		if err := ww.authenticationCleartext(); err != nil {
			return nil, err
		}
		if err := ww.flush(); err != nil {
			return nil, err
		}
		msg, err := readMessage(conn)
		if err != nil {
			return nil, err
		}
		if msg.typ != msgPassword {
			return nil, fmt.Errorf("expected PasswordMessage, got %q", msg.typ)
		}
		password = cstring(msg.body)
	}

	s.mu.Lock()
	authenticated := s.cluster.Instance.Authenticate(username, password)
	_, dbErr := s.cluster.Instance.Database(dbName)
	s.mu.Unlock()

	if !authenticated {
		ww.errorResponse("28P01", fmt.Sprintf("password authentication failed for user %q", username))
		ww.flush()
		return nil, core.ErrAuthenticationFailed
	}
	if dbErr != nil {
		ww.errorResponse("3D000", fmt.Sprintf("database %q does not exist", dbName))
		ww.flush()
		return nil, dbErr
	}

	if err := ww.authenticationOk(); err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{
		{"server_version", "14.0"},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"is_superuser", isSuperuserParam(s, username)},
		{"session_authorization", username},
		{"DateStyle", "ISO, MDY"},
	} {
		if err := ww.parameterStatus(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	if err := ww.backendKeyData(int32(os.Getpid()), 0); err != nil {
		return nil, err
	}
	if err := ww.readyForQuery(statusIdle); err != nil {
		return nil, err
	}

	return &session{
		srv:      s,
		ww:       ww,
		username: username,
		dbName:   dbName,
		prepared: make(map[string]*preparedStatement),
		portals:  make(map[string]*portal),
	}, nil
}

func isSuperuserParam(s *Server, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, err := s.cluster.Instance.User(username); err == nil && u.IsSuperuser {
		return "on"
	}
	return "off"
}

func cstring(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// handleSimpleQuery runs one Query message: parse, dispatch, stream the
// result, and finish with ReadyForQuery. SQL errors never drop the
// connection.
func (sess *session) handleSimpleQuery(sql string) error {
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if sql == "" {
		if err := sess.ww.emptyQueryResponse(); err != nil {
			return err
		}
		return sess.ww.readyForQuery(sess.state.statusByte())
	}

	res, err := sess.runStatement(sql)
	if err != nil {
		sess.sendError(err.Error())
		return sess.ww.readyForQuery(sess.state.statusByte())
	}
	if err := sess.streamResult(res); err != nil {
		return err
	}
	return sess.ww.readyForQuery(sess.state.statusByte())
}

// streamResult writes RowDescription/DataRow*/CommandComplete.
func (sess *session) streamResult(res *engine.Result) error {
	if len(res.Columns) > 0 {
		if err := sess.ww.rowDescription(res.Columns); err != nil {
			return err
		}
		for _, row := range res.Rows {
			cells := make([]*string, len(row))
			for i, v := range row {
				if v.IsNull() {
					continue
				}
				text := v.Format()
				cells[i] = &text
			}
			if err := sess.ww.dataRow(cells); err != nil {
				return err
			}
		}
	}
	tag := res.Tag
	if tag == "" {
		tag = "OK"
	}
	return sess.ww.commandComplete(tag)
}

// sendError translates an error to an ErrorResponse and, inside a
// transaction block, moves the session to the failed state.
func (sess *session) sendError(msg string) {
	if sess.state == txInProgress {
		sess.state = txFailed
	}
	sess.ww.errorResponse("42000", msg)
}

// runStatement parses and executes one statement under the server lock,
// enforcing the transaction state machine.
func (sess *session) runStatement(sql string) (*engine.Result, error) {
	stmt, err := engine.Parse(sql)
	if err != nil {
		return nil, err
	}

	// A failed transaction block rejects everything except ROLLBACK.
	if sess.state == txFailed {
		switch stmt.(type) {
		case *engine.RollbackStmt:
		default:
			return nil, core.ErrTxFailed
		}
	}

	switch s := stmt.(type) {
	case *engine.BeginStmt:
		return sess.handleBegin()
	case *engine.CommitStmt:
		return sess.handleCommit()
	case *engine.RollbackStmt:
		return sess.handleRollback()
	case *engine.CreateUserStmt, *engine.AlterUserStmt, *engine.DropUserStmt,
		*engine.CreateRoleStmt, *engine.DropRoleStmt,
		*engine.GrantStmt, *engine.RevokeStmt,
		*engine.CreateDatabaseStmt, *engine.DropDatabaseStmt:
		return sess.handleAdmin(s)
	default:
		return sess.execute(stmt)
	}
}

// execute runs a non-admin statement through the executor.
func (sess *session) execute(stmt engine.Statement) (*engine.Result, error) {
	sess.srv.mu.Lock()
	defer sess.srv.mu.Unlock()

	cluster := sess.srv.cluster
	db, err := cluster.Instance.Database(sess.dbName)
	if err != nil {
		return nil, err
	}
	ctx := &engine.Context{
		Instance: cluster.Instance,
		DB:       db,
		Store:    cluster.Store.ForDatabase(sess.dbName),
		WAL:      cluster.WAL,
		Txm:      cluster.Txm,
		TxID:     sess.txID,
		Snapshot: sess.snapshot,
		Username: sess.username,
	}
	res, err := engine.Execute(ctx, stmt)
	if err != nil {
		return nil, err
	}

	if isWriteStatement(stmt) && sess.state == txIdle {
		sess.srv.writesSinceCheckpoint++
		if sess.srv.writesSinceCheckpoint >= checkpointEveryWrites {
			sess.srv.writesSinceCheckpoint = 0
			if cerr := cluster.Checkpoint(); cerr != nil {
				sess.srv.log.Error("checkpoint failed", zap.Error(cerr))
			}
		}
	}
	return res, nil
}

func isWriteStatement(stmt engine.Statement) bool {
	switch stmt.(type) {
	case *engine.InsertStmt, *engine.UpdateStmt, *engine.DeleteStmt,
		*engine.CreateTableStmt, *engine.DropTableStmt, *engine.AlterTableStmt,
		*engine.CreateTypeStmt, *engine.CreateIndexStmt, *engine.DropIndexStmt,
		*engine.CreateViewStmt, *engine.DropViewStmt:
		return true
	}
	return false
}

func (sess *session) handleBegin() (*engine.Result, error) {
	if sess.state == txInProgress {
		return &engine.Result{Tag: "BEGIN"}, nil
	}
	sess.srv.mu.Lock()
	defer sess.srv.mu.Unlock()

	cluster := sess.srv.cluster
	db, err := cluster.Instance.Database(sess.dbName)
	if err != nil {
		return nil, err
	}
	txID, snap := cluster.Txm.BeginTransaction()
	sess.txID = txID
	sess.snapshot = snap
	sess.state = txInProgress
	sess.rollbackImage = db.Clone()
	return &engine.Result{Tag: "BEGIN"}, nil
}

func (sess *session) handleCommit() (*engine.Result, error) {
	if sess.state == txIdle {
		return &engine.Result{Tag: "COMMIT"}, nil
	}
	sess.srv.mu.Lock()
	cluster := sess.srv.cluster
	cluster.Txm.CommitTransaction(sess.txID)
	sess.srv.writesSinceCheckpoint++
	doCheckpoint := sess.srv.writesSinceCheckpoint >= checkpointEveryWrites
	if doCheckpoint {
		sess.srv.writesSinceCheckpoint = 0
	}
	sess.srv.mu.Unlock()

	sess.txID = core.InvalidTxID
	sess.snapshot = core.Snapshot{}
	sess.rollbackImage = nil
	sess.state = txIdle

	if doCheckpoint {
		sess.srv.mu.Lock()
		if err := cluster.Checkpoint(); err != nil {
			sess.srv.log.Error("checkpoint failed", zap.Error(err))
		}
		sess.srv.mu.Unlock()
	}
	return &engine.Result{Tag: "COMMIT"}, nil
}

func (sess *session) handleRollback() (*engine.Result, error) {
	if sess.state == txIdle {
		return &engine.Result{Tag: "ROLLBACK"}, nil
	}
	sess.srv.mu.Lock()
	cluster := sess.srv.cluster
	if sess.rollbackImage != nil {
		// Restore the pre-transaction catalog image, physically undo the
		// transaction's heap writes, and rebuild the restored image's
		// index structures from the surviving rows.
		cluster.Instance.Databases[sess.dbName] = sess.rollbackImage
		store := cluster.Store.ForDatabase(sess.dbName)
		for tableName := range sess.rollbackImage.Tables {
			if heap, err := store.Heap(tableName); err == nil {
				if _, aerr := heap.AbortTransaction(sess.txID); aerr != nil {
					sess.srv.log.Error("rollback undo failed",
						zap.String("table", tableName), zap.Error(aerr))
				}
			}
		}
		cluster.Txm.RollbackTransaction(sess.txID)
		rebuildIndexes(sess.rollbackImage, store, cluster.Txm.Snapshot())
	} else {
		cluster.Txm.RollbackTransaction(sess.txID)
	}
	sess.srv.mu.Unlock()

	sess.txID = core.InvalidTxID
	sess.snapshot = core.Snapshot{}
	sess.rollbackImage = nil
	sess.state = txIdle
	return &engine.Result{Tag: "ROLLBACK"}, nil
}

// abortOpenTransaction is the connection-drop path: the normal rollback.
func (sess *session) abortOpenTransaction() {
	if sess.state == txInProgress || sess.state == txFailed {
		sess.handleRollback()
	}
}
