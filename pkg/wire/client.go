package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

// Client sends Requests over a single net.Conn and correlates Responses
// back to their caller by ID, the way pkg/rpc's Handler correlates
// in-flight VM calls by numeric request ID, but keyed here by a uuid
// string since requests can arrive from many concurrently-traced
// syscalls rather than one stdio loop. Only one Request/Response pair is
// ever in flight per syscall (the tracer blocks the traced process until
// the reply returns), so Client also serializes writes with a mutex
// rather than pipelining.
type Client struct {
	writeMu sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader

	pending sync.Map // request id (string) -> chan pendingReply

	closeOnce sync.Once
	closed    chan struct{}
}

type pendingReply struct {
	resp Response
	data []byte
	err  error
}

// NewClient wraps an already-established connection. The caller owns
// dialing and retry policy; Client only frames requests and demultiplexes
// replies.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		f, err := readFrame(c.reader)
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp Response
		if unmarshalErr := json.Unmarshal(f.JSON, &resp); unmarshalErr != nil {
			continue
		}
		if ch, ok := c.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan pendingReply) <- pendingReply{resp: resp, data: f.Binary}
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		value.(chan pendingReply) <- pendingReply{err: err}
		c.pending.Delete(key)
		return true
	})
}

// call sends req and waits for its matching Response, returning the reply
// frame's binary segment alongside it.
func (c *Client) call(ctx context.Context, req Request) (Response, []byte, error) {
	return c.callWithBinary(ctx, req, nil)
}

// Read issues an OpRead and returns the reply frame's binary segment as
// sent by the storage service; ReadResult.BytesRead is not consulted.
func (c *Client) Read(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	_, data, err := c.call(ctx, Request{Operation: OpRead, Path: path, Offset: offset, Size: size})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write issues an OpWrite carrying data in the request frame's binary
// segment.
func (c *Client) Write(ctx context.Context, path string, offset int64, data []byte) (WriteResult, error) {
	req := Request{Operation: OpWrite, Path: path, Offset: offset}
	resp, _, err := c.callWithBinary(ctx, req, data)
	if err != nil {
		return WriteResult{}, err
	}
	var out WriteResult
	if unmarshalErr := json.Unmarshal(resp.Result, &out); unmarshalErr != nil {
		return WriteResult{}, errx.Wrap(ErrUnmarshalResponse, unmarshalErr)
	}
	return out, nil
}

func (c *Client) callWithBinary(ctx context.Context, req Request, data []byte) (Response, []byte, error) {
	if c.conn == nil {
		return Response{}, nil, ErrNotConnected
	}
	req.ID = uuid.NewString()

	replyCh := make(chan pendingReply, 1)
	c.pending.Store(req.ID, replyCh)

	body, err := json.Marshal(req)
	if err != nil {
		c.pending.Delete(req.ID)
		return Response{}, nil, errx.Wrap(ErrMarshalRequest, err)
	}

	c.writeMu.Lock()
	writeErr := writeFrame(c.conn, frame{JSON: body, Binary: data})
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pending.Delete(req.ID)
		return Response{}, nil, writeErr
	}

	select {
	case reply := <-replyCh:
		if reply.err != nil {
			return Response{}, nil, reply.err
		}
		if reply.resp.Error != nil {
			return reply.resp, nil, reply.resp.Error
		}
		return reply.resp, reply.data, nil
	case <-ctx.Done():
		c.pending.Delete(req.ID)
		return Response{}, nil, ctx.Err()
	case <-c.closed:
		return Response{}, nil, ErrClosed
	}
}

// Stat issues an OpStat.
func (c *Client) Stat(ctx context.Context, path string) (FileInfo, error) {
	resp, _, err := c.call(ctx, Request{Operation: OpStat, Path: path})
	if err != nil {
		return FileInfo{}, err
	}
	var out StatResult
	if unmarshalErr := json.Unmarshal(resp.Result, &out); unmarshalErr != nil {
		return FileInfo{}, errx.Wrap(ErrUnmarshalResponse, unmarshalErr)
	}
	return FileInfo{FileSize: out.FileSize, CreatedAt: out.CreatedAt, ModifiedAt: out.ModifiedAt}, nil
}

// Truncate issues an OpTruncate.
func (c *Client) Truncate(ctx context.Context, path string, size int64) (int64, error) {
	resp, _, err := c.call(ctx, Request{Operation: OpTruncate, Path: path, NewSize: size})
	if err != nil {
		return 0, err
	}
	var out TruncateResult
	if unmarshalErr := json.Unmarshal(resp.Result, &out); unmarshalErr != nil {
		return 0, errx.Wrap(ErrUnmarshalResponse, unmarshalErr)
	}
	return out.NewSize, nil
}

// Rename issues an OpRename.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	_, _, err := c.call(ctx, Request{Operation: OpRename, Path: oldPath, NewPath: newPath})
	return err
}

// Unlink issues an OpUnlink.
func (c *Client) Unlink(ctx context.Context, path string) error {
	_, _, err := c.call(ctx, Request{Operation: OpUnlink, Path: path})
	return err
}

// Close terminates the read loop and fails any in-flight calls.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.conn.Close()
}

var _ io.Closer = (*Client)(nil)
