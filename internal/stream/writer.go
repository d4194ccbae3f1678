package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"zag/internal/config"
)

// Writer sends parts to a client, flushing after each one.
type Writer interface {
	WritePart(p Part) error
}

// NewWriter sets the response headers for protocol and returns its writer.
func NewWriter(w http.ResponseWriter, protocol string) Writer {
	if protocol == config.ProtocolSSE {
		return NewSSEWriter(w)
	}
	return NewDataWriter(w)
}

// DataWriter writes the line-delimited data stream: one CODE:JSON line per
// part.
type DataWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewDataWriter(w http.ResponseWriter) *DataWriter {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.Header().Set("Cache-Control", "no-cache")
	return &DataWriter{w: w, rc: http.NewResponseController(w)}
}

func (d *DataWriter) WritePart(p Part) error {
	line, err := EncodeLine(p)
	if err != nil {
		return err
	}
	if _, err := d.w.Write(line); err != nil {
		return err
	}
	return d.rc.Flush()
}

// EncodeLine renders p as a data stream line including the trailing newline.
func EncodeLine(p Part) ([]byte, error) {
	code, ok := kindCodes[p.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown part kind %q", p.Kind)
	}
	b, err := json.Marshal(p.Value)
	if err != nil {
		return nil, fmt.Errorf("encoding %s part: %w", p.Kind, err)
	}
	line := make([]byte, 0, len(b)+3)
	line = append(line, code, ':')
	line = append(line, b...)
	return append(line, '\n'), nil
}

// SSEWriter writes parts as server-sent events named after the part kind.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

func (s *SSEWriter) WritePart(p Part) error {
	return s.Send(string(p.Kind), p.Value)
}

func (s *SSEWriter) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	return s.rc.Flush()
}
