package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// stdioCodec reads Content-Length framed messages, the framing stdio MCP
// clients use. Bare JSON lines are accepted too for local smoke tests.
type stdioCodec struct {
	r *bufio.Reader
	w *bufio.Writer
}

func newStdioCodec(r io.Reader, w io.Writer) *stdioCodec {
	return &stdioCodec{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

func (c *stdioCodec) read() ([]byte, error) {
	if err := c.skipBlank(); err != nil {
		return nil, err
	}

	first, err := c.r.Peek(1)
	if err != nil {
		return nil, err
	}
	if first[0] == '{' {
		line, err := c.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return bytes.TrimSpace(line), nil
	}

	header, err := textproto.NewReader(c.r).ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	length, err := contentLength(header)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return payload, nil
}

func (c *stdioCodec) skipBlank() error {
	for {
		b, err := c.r.Peek(1)
		if err != nil {
			return err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := c.r.ReadByte(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func contentLength(header textproto.MIMEHeader) (int, error) {
	raw := strings.TrimSpace(header.Get("Content-Length"))
	if raw == "" {
		return 0, fmt.Errorf("missing Content-Length header")
	}
	length, err := strconv.Atoi(raw)
	if err != nil || length <= 0 {
		return 0, fmt.Errorf("invalid Content-Length value: %q", raw)
	}
	return length, nil
}

func (c *stdioCodec) write(response jsonRPCResponse) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}
