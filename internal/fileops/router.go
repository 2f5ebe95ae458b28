package fileops

import (
	"bytes"
	"encoding/json"
	"path"

	"github.com/ehrlich-b/gangway/internal/protocol"
)

// Handle executes one file-operation control frame against b and returns
// the response message to put on the wire. It never returns nil: every
// request, malformed ones included, gets a response correlated by
// requestId. Backend errors are normalized to their string message so no
// backend-specific error shape leaks to the client.
func Handle(b Backend, msgType string, frame []byte) any {
	switch msgType {
	case protocol.TypeFileList:
		var req protocol.FileList
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return list(b, req)
	case protocol.TypeFileRead:
		var req protocol.FileRead
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return read(b, req)
	case protocol.TypeFileWrite:
		var req protocol.FileWrite
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return write(b, req)
	case protocol.TypeFileCreate:
		var req protocol.FileCreate
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return create(b, req)
	case protocol.TypeFileDelete:
		var req protocol.FileDelete
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return del(b, req)
	case protocol.TypeFileRename:
		var req protocol.FileRename
		if err := json.Unmarshal(frame, &req); err != nil {
			return failure(requestID(frame), err.Error())
		}
		return rename(b, req)
	}
	return failure(requestID(frame), "unknown file operation: "+msgType)
}

// Failure builds a generic operation-failure response. The gateway uses
// it for protocol-local errors that carry a requestId.
func Failure(requestID, msg string) protocol.FileOpResponse {
	return failure(requestID, msg)
}

func list(b Backend, req protocol.FileList) protocol.FileListResponse {
	infos, err := b.ReadDir(req.Path)
	if err != nil {
		return protocol.FileListResponse{
			Type:      protocol.TypeFileListResponse,
			RequestID: req.RequestID,
			Error:     err.Error(),
		}
	}
	entries := make([]protocol.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, protocol.Entry{
			Name:    info.Name(),
			Path:    path.Join(req.Path, info.Name()),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
	}
	// No sorting: order is a presentation concern for the client.
	return protocol.FileListResponse{
		Type:      protocol.TypeFileListResponse,
		RequestID: req.RequestID,
		Success:   true,
		Entries:   entries,
	}
}

func read(b Backend, req protocol.FileRead) protocol.FileReadResponse {
	fail := func(msg string) protocol.FileReadResponse {
		return protocol.FileReadResponse{
			Type:      protocol.TypeFileReadResponse,
			RequestID: req.RequestID,
			Error:     msg,
		}
	}

	info, err := b.Stat(req.Path)
	if err != nil {
		return fail(err.Error())
	}
	if info.Size() > MaxReadSize {
		return fail(ErrTooLarge.Error())
	}

	// The stat is advisory: the file may grow between stat and read.
	// Reading one byte past the cap and re-checking guarantees oversize
	// files fail rather than come back truncated.
	content, err := b.ReadFile(req.Path, MaxReadSize+1)
	if err != nil {
		return fail(err.Error())
	}
	if int64(len(content)) > MaxReadSize {
		return fail(ErrTooLarge.Error())
	}

	// A NUL byte marks the content as binary. UTF-16 and friends get
	// misclassified as binary by this heuristic; that is a documented
	// limitation of the protocol, not something to special-case here.
	resp := protocol.FileReadResponse{
		Type:      protocol.TypeFileReadResponse,
		RequestID: req.RequestID,
		Success:   true,
	}
	if bytes.IndexByte(content, 0) >= 0 {
		resp.Content = encodeBase64(content)
		resp.Encoding = protocol.EncodingBase64
	} else {
		resp.Content = string(content)
		resp.Encoding = protocol.EncodingUTF8
	}
	return resp
}

func write(b Backend, req protocol.FileWrite) protocol.FileOpResponse {
	data, err := decodeContent(req.Content, req.Encoding)
	if err != nil {
		return failure(req.RequestID, err.Error())
	}
	if err := b.WriteFile(req.Path, data); err != nil {
		return failure(req.RequestID, err.Error())
	}
	return success(req.RequestID)
}

func create(b Backend, req protocol.FileCreate) protocol.FileOpResponse {
	var err error
	if req.IsDirectory {
		err = b.MkdirAll(req.Path)
	} else {
		err = b.WriteFile(req.Path, nil)
	}
	if err != nil {
		return failure(req.RequestID, err.Error())
	}
	return success(req.RequestID)
}

func del(b Backend, req protocol.FileDelete) protocol.FileOpResponse {
	var err error
	if req.Recursive {
		err = b.RemoveAll(req.Path)
	} else {
		// Non-recursive delete of a non-empty directory must surface the
		// underlying filesystem error untouched.
		err = b.Remove(req.Path)
	}
	if err != nil {
		return failure(req.RequestID, err.Error())
	}
	return success(req.RequestID)
}

func rename(b Backend, req protocol.FileRename) protocol.FileOpResponse {
	if err := b.Rename(req.OldPath, req.NewPath); err != nil {
		return failure(req.RequestID, err.Error())
	}
	return success(req.RequestID)
}

func success(requestID string) protocol.FileOpResponse {
	return protocol.FileOpResponse{
		Type:      protocol.TypeFileOpResponse,
		RequestID: requestID,
		Success:   true,
	}
}

func failure(requestID, msg string) protocol.FileOpResponse {
	return protocol.FileOpResponse{
		Type:      protocol.TypeFileOpResponse,
		RequestID: requestID,
		Error:     msg,
	}
}

// requestID pulls the correlation token out of a frame that failed to
// decode as its expected shape.
func requestID(frame []byte) string {
	var partial struct {
		RequestID string `json:"requestId"`
	}
	json.Unmarshal(frame, &partial)
	return partial.RequestID
}
