package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3/packages/ssestream"
)

// Reader yields parts in stream order and returns io.EOF once the body is
// exhausted.
type Reader interface {
	Next() (Part, error)
	Close() error
}

// NewReader picks the decoder matching the response content type.
func NewReader(resp *http.Response) Reader {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return NewSSEReader(resp)
	}
	return NewDataReader(resp.Body)
}

type DataReader struct {
	rc  io.Closer
	scn *bufio.Scanner
}

func NewDataReader(r io.Reader) *DataReader {
	scn := bufio.NewScanner(r)
	scn.Buffer(nil, bufio.MaxScanTokenSize<<9)
	d := &DataReader{scn: scn}
	if c, ok := r.(io.Closer); ok {
		d.rc = c
	}
	return d
}

// Next skips blank lines and parts with codes it does not know.
func (d *DataReader) Next() (Part, error) {
	for d.scn.Scan() {
		line := d.scn.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		p, ok, err := DecodeLine(line)
		if err != nil {
			return Part{}, err
		}
		if ok {
			return p, nil
		}
	}
	if err := d.scn.Err(); err != nil {
		return Part{}, err
	}
	return Part{}, io.EOF
}

func (d *DataReader) Close() error {
	if d.rc == nil {
		return nil
	}
	return d.rc.Close()
}

// DecodeLine parses one data stream line. ok is false for well-formed lines
// whose code is not recognised.
func DecodeLine(line []byte) (p Part, ok bool, err error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return Part{}, false, fmt.Errorf("malformed stream line %q", line)
	}
	kind, known := codeKinds[line[0]]
	if !known {
		return Part{}, false, nil
	}
	v, err := decodeValue(kind, line[2:])
	if err != nil {
		return Part{}, false, err
	}
	return Part{Kind: kind, Value: v}, true, nil
}

type SSEReader struct {
	dec ssestream.Decoder
}

func NewSSEReader(resp *http.Response) *SSEReader {
	return &SSEReader{dec: ssestream.NewDecoder(resp)}
}

// Next skips events with unknown names.
func (s *SSEReader) Next() (Part, error) {
	for s.dec.Next() {
		ev := s.dec.Event()
		kind := Kind(ev.Type)
		if _, known := kindCodes[kind]; !known {
			continue
		}
		v, err := decodeValue(kind, ev.Data)
		if err != nil {
			return Part{}, err
		}
		return Part{Kind: kind, Value: v}, nil
	}
	if err := s.dec.Err(); err != nil {
		return Part{}, err
	}
	return Part{}, io.EOF
}

func (s *SSEReader) Close() error {
	return s.dec.Close()
}
