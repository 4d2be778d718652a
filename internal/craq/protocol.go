package craq

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Wire protocol, one request or response per line:
//
//	GET <key>\n
//	SET <key> <10-byte value>\n
//
//	VALUE <key> <10-byte value>\n
//	NOT_FOUND <key>\n
//	STORED <key>\n
//	NOT_STORED <key>\n
//	ERROR <message>\n
//
// Values are fixed-length binary and are framed by length, not by delimiter.

// Command and response words.
const (
	CmdGet = "GET"
	CmdSet = "SET"

	RespValue     = "VALUE"
	RespNotFound  = "NOT_FOUND"
	RespStored    = "STORED"
	RespNotStored = "NOT_STORED"
	RespError     = "ERROR"
)

// MaxKeyLength bounds keys on the wire.
const MaxKeyLength = 250

// maxLineLength bounds any line that is read up to a delimiter.
const maxLineLength = 1024

var (
	// ErrLineTooLong indicates a token or line exceeded its bound.
	ErrLineTooLong = errors.New("line too long")
)

// ValidKey reports whether key can travel on the wire.
func ValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c <= ' ' || c >= 0x7F {
			return false
		}
	}
	return true
}

// AppendGet appends a GET request for key.
func AppendGet(buf []byte, key string) []byte {
	buf = append(buf, CmdGet...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	return append(buf, '\n')
}

// AppendSet appends a SET request for key.
func AppendSet(buf []byte, key string, value [domain.EntrySize]byte) []byte {
	buf = append(buf, CmdSet...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, ' ')
	buf = append(buf, value[:]...)
	return append(buf, '\n')
}

// ResponseKind classifies a response line.
type ResponseKind int

const (
	ResponseValue ResponseKind = iota
	ResponseNotFound
	ResponseStored
	ResponseNotStored
	ResponseError
)

// Response is a parsed response line.
type Response struct {
	Kind    ResponseKind
	Key     string
	Value   [domain.EntrySize]byte
	Message string
}

// AppendResponse appends the wire form of resp.
func AppendResponse(buf []byte, resp Response) []byte {
	switch resp.Kind {
	case ResponseValue:
		buf = append(buf, RespValue+" "...)
		buf = append(buf, resp.Key...)
		buf = append(buf, ' ')
		buf = append(buf, resp.Value[:]...)
	case ResponseNotFound:
		buf = append(buf, RespNotFound+" "...)
		buf = append(buf, resp.Key...)
	case ResponseStored:
		buf = append(buf, RespStored+" "...)
		buf = append(buf, resp.Key...)
	case ResponseNotStored:
		buf = append(buf, RespNotStored+" "...)
		buf = append(buf, resp.Key...)
	default:
		buf = append(buf, RespError+" "...)
		buf = append(buf, resp.Message...)
	}
	return append(buf, '\n')
}

// ReadResponse reads one response.
// Malformed input yields an error wrapping domain.ErrProtocol; I/O failures
// are returned as-is.
func ReadResponse(r *bufio.Reader) (Response, error) {
	word, delim, err := readToken(r, maxLineLength)
	if err != nil {
		return Response{}, err
	}

	switch word {
	case RespValue:
		if delim != ' ' {
			return Response{}, protocolErr("VALUE without key")
		}
		key, delim, err := readToken(r, MaxKeyLength+1)
		if err != nil {
			return Response{}, err
		}
		if delim != ' ' {
			return Response{}, protocolErr("VALUE %q without value", key)
		}
		resp := Response{Kind: ResponseValue, Key: key}
		if err := readValue(r, &resp.Value); err != nil {
			return Response{}, err
		}
		return resp, nil

	case RespNotFound, RespStored, RespNotStored:
		if delim != ' ' {
			return Response{}, protocolErr("%s without key", word)
		}
		key, err := readRest(r)
		if err != nil {
			return Response{}, err
		}
		kind := map[string]ResponseKind{
			RespNotFound:  ResponseNotFound,
			RespStored:    ResponseStored,
			RespNotStored: ResponseNotStored,
		}[word]
		return Response{Kind: kind, Key: key}, nil

	case RespError:
		resp := Response{Kind: ResponseError}
		if delim == ' ' {
			msg, err := readRest(r)
			if err != nil {
				return Response{}, err
			}
			resp.Message = msg
		}
		return resp, nil

	default:
		return Response{}, protocolErr("unexpected response %q", word)
	}
}

// Request is a parsed request line.
type Request struct {
	Cmd   string
	Key   string
	Value [domain.EntrySize]byte
}

// ReadRequest reads one request.
func ReadRequest(r *bufio.Reader) (Request, error) {
	cmd, delim, err := readToken(r, 16)
	if err != nil {
		return Request{}, err
	}
	if delim != ' ' {
		return Request{}, protocolErr("%q without key", cmd)
	}

	switch cmd {
	case CmdGet:
		key, err := readRest(r)
		if err != nil {
			return Request{}, err
		}
		if !ValidKey(key) {
			return Request{}, protocolErr("invalid key %q", key)
		}
		return Request{Cmd: CmdGet, Key: key}, nil

	case CmdSet:
		key, delim, err := readToken(r, MaxKeyLength+1)
		if err != nil {
			return Request{}, err
		}
		if delim != ' ' || !ValidKey(key) {
			return Request{}, protocolErr("invalid SET key %q", key)
		}
		req := Request{Cmd: CmdSet, Key: key}
		if err := readValue(r, &req.Value); err != nil {
			return Request{}, err
		}
		return req, nil

	default:
		// Skip the rest of the line so the stream stays aligned.
		_, _ = readRest(r)
		return Request{}, protocolErr("unknown command %q", cmd)
	}
}

// readToken reads up to the next space or newline, returning the token and
// the delimiter that ended it.
func readToken(r *bufio.Reader, limit int) (string, byte, error) {
	var buf []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return "", 0, err
		}
		if c == ' ' || c == '\n' {
			return trimCR(buf), c, nil
		}
		if len(buf) >= limit {
			return "", 0, protocolErr("token: %v", ErrLineTooLong)
		}
		buf = append(buf, c)
	}
}

func readRest(r *bufio.Reader) (string, error) {
	s, delim, err := readToken(r, maxLineLength)
	if err != nil {
		return "", err
	}
	if delim != '\n' {
		rest, err := readRest(r)
		if err != nil {
			return "", err
		}
		return s + " " + rest, nil
	}
	return s, nil
}

func readValue(r *bufio.Reader, v *[domain.EntrySize]byte) error {
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return err
	}
	c, err := r.ReadByte()
	if err != nil {
		return err
	}
	if c == '\r' {
		if c, err = r.ReadByte(); err != nil {
			return err
		}
	}
	if c != '\n' {
		return protocolErr("value not terminated by newline")
	}
	return nil
}

func trimCR(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b)
}

func protocolErr(format string, args ...any) error {
	return domain.ErrProtocol.WithDetails(format, args...)
}

// IsProtocolError reports whether err came from malformed input.
func IsProtocolError(err error) bool {
	return errors.Is(err, domain.ErrProtocol)
}

// String renders a response kind for logs.
func (k ResponseKind) String() string {
	switch k {
	case ResponseValue:
		return RespValue
	case ResponseNotFound:
		return RespNotFound
	case ResponseStored:
		return RespStored
	case ResponseNotStored:
		return RespNotStored
	case ResponseError:
		return RespError
	default:
		return fmt.Sprintf("response(%d)", int(k))
	}
}
