package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ehrlich-b/gangway/internal/fileops"
	"github.com/ehrlich-b/gangway/internal/hosts"
	"github.com/ehrlich-b/gangway/internal/logger"
	"github.com/ehrlich-b/gangway/internal/protocol"
	"github.com/ehrlich-b/gangway/internal/remote"
	"github.com/ehrlich-b/gangway/internal/shell"
)

const (
	writeTimeout = 10 * time.Second

	// maxPasswordAttempts bounds the challenge/retry loop so a wrong
	// password cannot prompt forever.
	maxPasswordAttempts = 3
)

// backend is the terminal side of a session, satisfied by the local
// shell backends and by *remote.Backend.
type backend interface {
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Size() (cols, rows uint16)
	OnData(fn func([]byte))
	OnExit(fn func(code int))
	Kill() error
}

// target is the backend choice for a session, decided once at creation.
type target struct {
	local  bool
	params hosts.Params
}

// session is one logical client↔host connection. It owns exactly one
// terminal backend at any instant and at most one file-transfer channel
// on top of a remote backend.
type session struct {
	id     string
	conn   *websocket.Conn
	target target
	cols   uint16
	rows   uint16

	// writeMu enforces the single-writer rule: terminal output, control
	// responses, and lifecycle frames all share one connection.
	writeMu sync.Mutex

	backend backend
	rem     *remote.Backend // nil for local sessions

	cancel context.CancelFunc
}

// runSession drives one connection from accept to teardown.
func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, host string, cols, rows uint16) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		cols:   cols,
		rows:   rows,
		cancel: cancel,
	}

	if host == hosts.Local {
		sess.target = target{local: true}
	} else {
		params, err := s.opts.Hosts.Resolve(host)
		if err != nil {
			// Host-not-found is a session-establishment failure, not an
			// authentication failure; it is fatal immediately.
			sess.fatal(ctx, err.Error())
			return
		}
		sess.target = target{params: params}
	}

	logger.Info("session start", "session", sess.id, "host", host, "cols", cols, "rows", rows)

	// Whatever ends the session, the backend dies with it: the shell
	// process gets its signal and the SSH connection closes before the
	// handler returns.
	defer func() {
		if sess.backend != nil {
			sess.backend.Kill()
		}
		if sess.rem != nil {
			sess.rem.Close()
		}
		logger.Info("session end", "session", sess.id, "host", host)
	}()

	if sess.target.local {
		if err := sess.startLocal(s.opts.Shell); err != nil {
			sess.fatal(ctx, err.Error())
			return
		}
	} else {
		if err := sess.startRemote(ctx); err != nil {
			sess.fatal(ctx, err.Error())
			return
		}
	}

	sess.wireBackend(ctx)
	sess.writeJSON(ctx, protocol.Ready{Type: protocol.TypeReady})

	sess.readPump(ctx)
}

// startLocal spawns the local shell backend.
func (sess *session) startLocal(command string) error {
	if command == "" {
		command = shell.DefaultCommand()
	}
	b, err := shell.Spawn(command, nil, shell.Options{Cols: sess.cols, Rows: sess.rows})
	if err != nil {
		return err
	}
	sess.backend = b
	return nil
}

// startRemote dials the host and runs the authentication state machine:
// Connecting, then on an auth rejection PasswordRequested and a fresh
// Connecting(retry) with the supplied password. Each retry discards the
// failed backend entirely; only one backend ever exists at a time. The
// shell channel opens only after authentication succeeds, sized to the
// dimensions last known to the session.
func (sess *session) startRemote(ctx context.Context) error {
	b, err := remote.Dial(ctx, sess.target.params, "")
	for attempt := 0; err != nil && errors.Is(err, remote.ErrAuthFailed) && attempt < maxPasswordAttempts; attempt++ {
		password, perr := sess.requestPassword(ctx)
		if perr != nil {
			return perr
		}
		b, err = remote.Dial(ctx, sess.target.params, password)
	}
	if err != nil {
		return err
	}

	if err := b.OpenShell(sess.cols, sess.rows); err != nil {
		b.Close()
		return err
	}
	sess.rem = b
	sess.backend = b
	return nil
}

// requestPassword emits the password challenge and reads frames until
// the answer arrives. No shell channel exists in this state, so raw
// keystroke frames are dropped; file operations are rejected with a
// retryable error rather than queued; resize updates the dimensions the
// shell channel will open with.
func (sess *session) requestPassword(ctx context.Context) (string, error) {
	prompt := fmt.Sprintf("%s@%s's password:", sess.target.params.User, sess.target.params.Addr)
	err := sess.writeJSON(ctx, protocol.PasswordRequired{
		Type:    protocol.TypePasswordRequired,
		Prompts: []protocol.Prompt{{Prompt: prompt, Echo: false}},
	})
	if err != nil {
		return "", err
	}

	for {
		_, frame, err := sess.conn.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("connection closed during authentication: %w", err)
		}
		env, ok := protocol.DecodeControl(frame)
		if !ok {
			continue
		}
		switch env.Type {
		case protocol.TypePassword:
			var msg protocol.Password
			if err := json.Unmarshal(frame, &msg); err != nil {
				continue
			}
			return msg.First(), nil
		case protocol.TypeResize:
			sess.applyResize(frame)
		default:
			sess.rejectNotReady(ctx, frame)
		}
	}
}

// wireBackend connects the backend's output and exit to the outbound
// path. The exit of the shell, local process or remote channel alike,
// terminates the whole session.
func (sess *session) wireBackend(ctx context.Context) {
	sess.backend.OnData(func(data []byte) {
		sess.writeRaw(ctx, data)
	})
	sess.backend.OnExit(func(code int) {
		logger.Info("shell exited", "session", sess.id, "code", code)
		sess.writeJSON(ctx, protocol.Exit{Type: protocol.TypeExit, Code: code})
		sess.conn.Close(websocket.StatusNormalClosure, "shell exited")
		sess.cancel()
	})
}

// readPump demultiplexes inbound frames for the life of the session.
// Every frame is first tried as a control message; everything else is
// raw keystrokes for the shell. A keystroke burst that happens to be
// valid control JSON is swallowed as control; that is the protocol's
// documented framing rule.
func (sess *session) readPump(ctx context.Context) {
	for {
		_, frame, err := sess.conn.Read(ctx)
		if err != nil {
			return
		}

		env, ok := protocol.DecodeControl(frame)
		if !ok {
			if _, err := sess.backend.Write(frame); err != nil {
				logger.Debug("terminal write failed", "session", sess.id, "err", err)
			}
			continue
		}

		switch env.Type {
		case protocol.TypeResize:
			sess.applyResize(frame)

		case protocol.TypePassword:
			// No challenge outstanding once the session is live.
			logger.Debug("stray auth:password ignored", "session", sess.id)

		case protocol.TypeFileList, protocol.TypeFileRead, protocol.TypeFileWrite,
			protocol.TypeFileCreate, protocol.TypeFileDelete, protocol.TypeFileRename:
			// File operations run concurrently with terminal I/O and
			// with each other; completion order is whatever it is.
			go sess.dispatchFile(ctx, env.Type, frame)

		default:
			// Structured JSON, unknown type: protocol-local. Answer if
			// correlatable, drop otherwise. Never session-fatal.
			sess.rejectUnknown(ctx, frame, env.Type)
		}
	}
}

// applyResize forwards new dimensions to the active backend and records
// them. Redundant calls are harmless by contract.
func (sess *session) applyResize(frame []byte) {
	var msg protocol.Resize
	if err := json.Unmarshal(frame, &msg); err != nil {
		return
	}
	if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
		return
	}
	sess.cols, sess.rows = uint16(msg.Cols), uint16(msg.Rows)
	if sess.backend != nil {
		if err := sess.backend.Resize(sess.cols, sess.rows); err != nil {
			logger.Debug("resize failed", "session", sess.id, "err", err)
		}
	}
}

// dispatchFile routes one file-operation frame to the router against the
// session's file backend and writes the correlated response. Any failure
// is operation-local: the response frame carries it and the session
// stays up.
func (sess *session) dispatchFile(ctx context.Context, msgType string, frame []byte) {
	var fb fileops.Backend
	if sess.target.local {
		fb = fileops.Local{}
	} else {
		client, err := sess.rem.Files()
		if err != nil {
			sess.writeJSON(ctx, fileops.Failure(fileRequestID(frame), err.Error()))
			return
		}
		fb = fileops.SFTP{Client: client}
	}
	sess.writeJSON(ctx, fileops.Handle(fb, msgType, frame))
}

// rejectNotReady answers a file operation that arrived before the
// backend exists. Rejected, not queued: the client retries once ready.
func (sess *session) rejectNotReady(ctx context.Context, frame []byte) {
	if id := fileRequestID(frame); id != "" {
		sess.writeJSON(ctx, fileops.Failure(id, "connection not ready, retry"))
	}
}

func (sess *session) rejectUnknown(ctx context.Context, frame []byte, msgType string) {
	if id := fileRequestID(frame); id != "" {
		sess.writeJSON(ctx, fileops.Failure(id, "unrecognized message type: "+msgType))
		return
	}
	logger.Debug("dropping unrecognized control frame", "session", sess.id, "type", msgType)
}

// fatal sends the final human-readable frame and closes the connection.
func (sess *session) fatal(ctx context.Context, msg string) {
	logger.Warn("session fatal", "session", sess.id, "err", msg)
	sess.writeJSON(ctx, protocol.ErrorMsg{Type: protocol.TypeError, Message: msg})
	sess.conn.Close(websocket.StatusInternalError, "session failed")
}

func (sess *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return sess.conn.Write(writeCtx, websocket.MessageText, data)
}

func (sess *session) writeRaw(ctx context.Context, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return sess.conn.Write(writeCtx, websocket.MessageBinary, data)
}

func fileRequestID(frame []byte) string {
	var partial struct {
		RequestID string `json:"requestId"`
	}
	json.Unmarshal(frame, &partial)
	return partial.RequestID
}
