package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/cfc-ptrace/cfc-ptrace/internal/errx"
)

// Server accepts connections and dispatches each Request on them to a
// Backend, one request at a time per connection, mirroring the tracer's
// own blocking call-and-wait discipline: a traced process can't make its
// next syscall until the current one's reply lands, so there is never
// more than one Request in flight per connection to pipeline.
type Server struct {
	backend Backend
	log     *slog.Logger
}

// NewServer builds a Server dispatching to backend. A nil logger falls
// back to slog.Default().
func NewServer(backend Backend, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{backend: backend, log: log}
}

// Serve accepts connections on ln until ctx is cancelled or ln.Accept
// fails, handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		f, err := readFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("wire: connection read failed", "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(f.JSON, &req); err != nil {
			s.log.Warn("wire: malformed request", "error", err)
			continue
		}

		resp, binary := s.dispatch(ctx, req, f.Binary)
		body, err := json.Marshal(resp)
		if err != nil {
			s.log.Error("wire: marshal response", "error", errx.Wrap(ErrMarshalResponse, err))
			return
		}
		if writeErr := writeFrame(conn, frame{JSON: body, Binary: binary}); writeErr != nil {
			s.log.Warn("wire: connection write failed", "error", writeErr)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request, payload []byte) (Response, []byte) {
	switch req.Operation {
	case OpRead:
		data, err := s.backend.Read(ctx, req.Path, req.Offset, req.Size)
		if err != nil {
			return errorResponse(req.ID, err), nil
		}
		return resultResponse(req.ID, ReadResult{BytesRead: int64(len(data))}), data

	case OpWrite:
		written, newSize, err := s.backend.Write(ctx, req.Path, req.Offset, payload)
		if err != nil {
			return errorResponse(req.ID, err), nil
		}
		return resultResponse(req.ID, WriteResult{BytesWritten: written, NewSize: newSize}), nil

	case OpStat:
		info, err := s.backend.Stat(ctx, req.Path)
		if err != nil {
			return errorResponse(req.ID, err), nil
		}
		return resultResponse(req.ID, StatResult{
			FileSize:   info.FileSize,
			CreatedAt:  info.CreatedAt,
			ModifiedAt: info.ModifiedAt,
		}), nil

	case OpTruncate:
		newSize, err := s.backend.Truncate(ctx, req.Path, req.NewSize)
		if err != nil {
			return errorResponse(req.ID, err), nil
		}
		return resultResponse(req.ID, TruncateResult{NewSize: newSize}), nil

	case OpRename:
		if err := s.backend.Rename(ctx, req.Path, req.NewPath); err != nil {
			return errorResponse(req.ID, err), nil
		}
		return Response{ID: req.ID}, nil

	case OpUnlink:
		if err := s.backend.Unlink(ctx, req.Path); err != nil {
			return errorResponse(req.ID, err), nil
		}
		return Response{ID: req.ID}, nil

	default:
		return errorResponse(req.ID, ErrUnmarshalRequest), nil
	}
}

func resultResponse(id string, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(id, err)
	}
	return Response{ID: id, Result: body}
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Error: classify(err)}
}
