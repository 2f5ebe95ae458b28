package protocol

import (
	"encoding/json"
)

// Message types for the session WebSocket protocol. Raw terminal bytes are
// NOT listed here: any inbound frame that does not parse as one of these is
// forwarded verbatim to the shell backend as keystrokes.
const (
	// Bidirectional terminal control
	TypeResize = "resize" // client → gateway

	// Authentication handshake
	TypePasswordRequired = "auth:password-required" // gateway → client
	TypePassword         = "auth:password"          // client → gateway

	// File operations (client → gateway)
	TypeFileList   = "file:list"
	TypeFileRead   = "file:read"
	TypeFileWrite  = "file:write"
	TypeFileCreate = "file:create"
	TypeFileDelete = "file:delete"
	TypeFileRename = "file:rename"

	// File operation responses (gateway → client)
	TypeFileListResponse = "file:list:response"
	TypeFileReadResponse = "file:read:response"
	TypeFileOpResponse   = "file:operation:response"

	// Session lifecycle (gateway → client)
	TypeReady = "ready" // backend is live, terminal bytes will flow
	TypeExit  = "exit"  // shell exited; connection closes after this
	TypeError = "error" // fatal, human-readable; connection closes after this
)

// Content encodings used by file:read / file:write.
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

// Envelope is the minimal shape every control message shares.
type Envelope struct {
	Type string `json:"type"`
}

// Resize tells the gateway to resize the active backend's terminal.
type Resize struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Prompt is a single authentication prompt raised by a remote host.
type Prompt struct {
	Prompt string `json:"prompt"`
	Echo   bool   `json:"echo"`
}

// PasswordRequired announces that the remote host wants credentials.
// The gateway holds the connection in the auth dialogue until a
// Password message arrives or the client disconnects.
type PasswordRequired struct {
	Type    string   `json:"type"`
	Prompts []Prompt `json:"prompts"`
}

// Password carries the client's answer to a PasswordRequired challenge.
// Responses is used for multi-prompt challenges; Password covers the
// common single-prompt case.
type Password struct {
	Type      string   `json:"type"`
	Password  string   `json:"password,omitempty"`
	Responses []string `json:"responses,omitempty"`
}

// First returns the primary secret regardless of which field was used.
func (p Password) First() string {
	if p.Password != "" {
		return p.Password
	}
	if len(p.Responses) > 0 {
		return p.Responses[0]
	}
	return ""
}

// FileList requests a directory listing.
type FileList struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
}

// FileRead requests the full content of one file.
type FileRead struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
}

// FileWrite overwrites a file with the given content. Content is base64
// when Encoding says so, UTF-8 text otherwise.
type FileWrite struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding,omitempty"`
}

// FileCreate creates an empty file or a directory (recursively).
type FileCreate struct {
	Type        string `json:"type"`
	RequestID   string `json:"requestId"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// FileDelete removes a file or directory.
type FileDelete struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

// FileRename renames oldPath to newPath in a single call.
type FileRename struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	OldPath   string `json:"oldPath"`
	NewPath   string `json:"newPath"`
}

// Entry is a single row of a directory listing. Listings are computed
// live on every request; entries carry no identity beyond their path.
type Entry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"isDirectory"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTime"` // unix seconds
}

// FileListResponse answers a FileList request.
type FileListResponse struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId"`
	Success   bool    `json:"success"`
	Entries   []Entry `json:"entries,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// FileReadResponse answers a FileRead request.
type FileReadResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Content   string `json:"content,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FileOpResponse answers write/create/delete/rename requests.
type FileOpResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Ready signals that the session's backend is live.
type Ready struct {
	Type string `json:"type"`
}

// Exit signals that the shell process exited.
type Exit struct {
	Type string `json:"type"`
	Code int    `json:"exit_code"`
}

// ErrorMsg is the final human-readable frame before a fatal close.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Recognized reports whether t names a control message the gateway
// understands on its inbound path.
func Recognized(t string) bool {
	switch t {
	case TypeResize, TypePassword,
		TypeFileList, TypeFileRead, TypeFileWrite,
		TypeFileCreate, TypeFileDelete, TypeFileRename:
		return true
	}
	return false
}

// DecodeControl attempts to interpret an inbound frame as a control
// message. It returns the envelope and true when the frame is a JSON
// object carrying a type field; the caller treats unrecognized types as a
// protocol-local error, never as keystrokes. Everything else is raw
// terminal input. Keystroke sequences that happen to be valid control
// JSON are swallowed as control; that is the wire format's documented
// disambiguation rule, fragile as it is.
func DecodeControl(frame []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}
