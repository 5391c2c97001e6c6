package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ServeStdio answers framed JSON-RPC messages read from in until EOF or ctx
// is done. Notifications get no reply and undecodable payloads are dropped.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	codec := newStdioCodec(in, out)

	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := codec.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("dropping invalid json-rpc payload", "error", err)
			continue
		}

		resp := s.Handle(ctx, req)
		if req.isNotification() {
			continue
		}
		if err := codec.write(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}
