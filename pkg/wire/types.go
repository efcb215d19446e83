package wire

import "encoding/json"

// Operation names the storage verb a Request carries. These mirror the
// syscalls the tracer intercepts: open-backed reads and
// writes collapse onto read/write/stat against a path, not a raw fd, since
// fd-to-path resolution happens in pkg/vfd before a Request is ever built.
type Operation string

const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpStat     Operation = "stat"
	OpTruncate Operation = "truncate"
	OpRename   Operation = "rename"
	OpUnlink   Operation = "unlink"
)

// Request is the JSON half of a frame: {id, path, offset, size} for read.
// The write payload rides out-of-band in the frame's second segment;
// Request.Size is unused for write.
type Request struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Path      string    `json:"path"`
	Offset    int64     `json:"offset,omitempty"`
	Size      int64     `json:"size,omitempty"`
	NewPath   string    `json:"new_path,omitempty"`
	NewSize   int64     `json:"new_size,omitempty"`
}

// Response is the JSON half of the reply frame. Error is set on failure
// and Result is then empty; on success Result carries the operation's
// result, except for rename and unlink, which set neither. A successful read's byte payload rides in the reply
// frame's binary segment, not in Result.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// ReadResult accompanies a successful OpRead; the bytes themselves are the
// reply frame's binary segment.
type ReadResult struct {
	BytesRead int64 `json:"bytes_read"`
}

// WriteResult accompanies a successful OpWrite.
type WriteResult struct {
	BytesWritten int64 `json:"bytes_written"`
	NewSize      int64 `json:"new_size"`
}

// StatResult accompanies a successful OpStat. Timestamps ride the wire as
// the ISO-8601 strings the store keeps; the struct stat pkg/ptrace
// fabricates leaves its timestamps zero.
type StatResult struct {
	FileSize   int64  `json:"file_size"`
	CreatedAt  string `json:"created_at"`
	ModifiedAt string `json:"modified_at"`
}

// TruncateResult accompanies a successful OpTruncate.
type TruncateResult struct {
	NewSize int64 `json:"new_size"`
}

// FileInfo is the Backend-facing equivalent of StatResult, kept separate so
// Backend implementations don't need to import wire's JSON tags.
type FileInfo struct {
	FileSize   int64
	CreatedAt  string
	ModifiedAt string
}
