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

	"github.com/ehrlich-b/gangway/internal/protocol"
)

// DefaultRequestTimeout bounds how long one file operation may stay
// pending before its correlation record is discarded and the call fails.
const DefaultRequestTimeout = 30 * time.Second

// ErrRequestTimeout is returned when a file operation's response never
// arrived inside the timeout.
var ErrRequestTimeout = errors.New("file operation timed out")

// FileClient drives the file-operation side of a session connection.
// Operations may be issued concurrently; each is correlated by its own
// request identifier and responses may arrive in any order. A request
// identifier is never reused while its record exists.
type FileClient struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan []byte
	readErr error
	done    chan struct{}
}

// DialFiles opens a session connection to base for file operations
// against host. Hosts that demand a password are reported as an error;
// interactive credentials belong to the attach flow.
func DialFiles(ctx context.Context, base, host string) (*FileClient, error) {
	conn, _, err := websocket.Dial(ctx, SessionURL(base, host, 80, 24), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &FileClient{
		conn:    conn,
		timeout: DefaultRequestTimeout,
		pending: make(map[string]chan []byte),
		done:    make(chan struct{}),
	}

	// Wait for the session to come up before issuing anything; file
	// operations sent earlier get rejected with a retryable error.
	for {
		typ, frame, err := conn.Read(ctx)
		if err != nil {
			conn.CloseNow()
			return nil, fmt.Errorf("handshake: %w", err)
		}
		if typ == websocket.MessageBinary {
			continue
		}
		env, ok := protocol.DecodeControl(frame)
		if !ok {
			continue
		}
		switch env.Type {
		case protocol.TypeReady:
			go c.readLoop()
			return c, nil
		case protocol.TypePasswordRequired:
			conn.CloseNow()
			return nil, fmt.Errorf("host %q requires a password", host)
		case protocol.TypeError:
			var msg protocol.ErrorMsg
			json.Unmarshal(frame, &msg)
			conn.CloseNow()
			return nil, errors.New(msg.Message)
		}
	}
}

// Close ends the connection; the gateway tears the session down.
func (c *FileClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "done")
}

func (c *FileClient) readLoop() {
	defer close(c.done)
	for {
		typ, frame, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if typ == websocket.MessageBinary {
			// Terminal output is not this client's concern.
			continue
		}
		var partial struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(frame, &partial); err != nil || partial.RequestID == "" {
			continue
		}
		c.mu.Lock()
		ch := c.pending[partial.RequestID]
		c.mu.Unlock()
		if ch != nil {
			ch <- frame
		}
	}
}

// roundTrip sends req and waits for the frame echoing id.
func (c *FileClient) roundTrip(ctx context.Context, id string, req any) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	c.writeMu.Lock()
	err = c.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		return frame, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("connection lost: %w", err)
	}
}

// List fetches a directory listing.
func (c *FileClient) List(ctx context.Context, path string) ([]protocol.Entry, error) {
	id := uuid.NewString()
	frame, err := c.roundTrip(ctx, id, protocol.FileList{
		Type: protocol.TypeFileList, RequestID: id, Path: path,
	})
	if err != nil {
		return nil, err
	}
	var resp protocol.FileListResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.New(resp.Error)
	}
	return resp.Entries, nil
}

// Read fetches a file's content plus its encoding tag.
func (c *FileClient) Read(ctx context.Context, path string) (content, encoding string, err error) {
	id := uuid.NewString()
	frame, err := c.roundTrip(ctx, id, protocol.FileRead{
		Type: protocol.TypeFileRead, RequestID: id, Path: path,
	})
	if err != nil {
		return "", "", err
	}
	var resp protocol.FileReadResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return "", "", err
	}
	if !resp.Success {
		return "", "", errors.New(resp.Error)
	}
	return resp.Content, resp.Encoding, nil
}

// Write overwrites a file.
func (c *FileClient) Write(ctx context.Context, path, content, encoding string) error {
	id := uuid.NewString()
	return c.opRoundTrip(ctx, id, protocol.FileWrite{
		Type: protocol.TypeFileWrite, RequestID: id,
		Path: path, Content: content, Encoding: encoding,
	})
}

// Create makes an empty file or a directory tree.
func (c *FileClient) Create(ctx context.Context, path string, isDir bool) error {
	id := uuid.NewString()
	return c.opRoundTrip(ctx, id, protocol.FileCreate{
		Type: protocol.TypeFileCreate, RequestID: id,
		Path: path, IsDirectory: isDir,
	})
}

// Delete removes a file or directory.
func (c *FileClient) Delete(ctx context.Context, path string, recursive bool) error {
	id := uuid.NewString()
	return c.opRoundTrip(ctx, id, protocol.FileDelete{
		Type: protocol.TypeFileDelete, RequestID: id,
		Path: path, Recursive: recursive,
	})
}

// Rename moves oldPath to newPath.
func (c *FileClient) Rename(ctx context.Context, oldPath, newPath string) error {
	id := uuid.NewString()
	return c.opRoundTrip(ctx, id, protocol.FileRename{
		Type: protocol.TypeFileRename, RequestID: id,
		OldPath: oldPath, NewPath: newPath,
	})
}

func (c *FileClient) opRoundTrip(ctx context.Context, id string, req any) error {
	frame, err := c.roundTrip(ctx, id, req)
	if err != nil {
		return err
	}
	var resp protocol.FileOpResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}
