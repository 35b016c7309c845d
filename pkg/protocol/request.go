package protocol

import (
	"fmt"
	"strings"
)

// Recognized service names. Only the upload service is served by this
// daemon; the other two are recognized so clients get a clean protocol
// error instead of a framing failure.
const (
	ServiceUploadPack    = "git-upload-pack"
	ServiceReceivePack   = "git-receive-pack"
	ServiceUploadArchive = "git-upload-archive"
)

// Request is a parsed request line:
//
//	<service> SP <path> NUL [ host=<host> NUL [ NUL <key>=<value> NUL ]* ]
type Request struct {
	Service string
	Path    string
	Params  map[string]string
}

// ParseRequest parses the first packet of a connection.
func ParseRequest(payload []byte) (*Request, error) {
	service, rest, ok := strings.Cut(string(payload), " ")
	if !ok {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, payload)
	}
	switch service {
	case ServiceUploadPack, ServiceReceivePack, ServiceUploadArchive:
	default:
		return nil, fmt.Errorf("%w: unknown service %q", ErrMalformed, service)
	}

	fields := strings.Split(rest, "\x00")
	// The path carries a mandatory trailing NUL, so a well-formed
	// request yields at least one empty trailing field.
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: request path not NUL-terminated", ErrMalformed)
	}
	req := &Request{
		Service: service,
		Path:    fields[0],
		Params:  make(map[string]string),
	}
	if req.Path == "" {
		return nil, fmt.Errorf("%w: empty request path", ErrMalformed)
	}

	for _, param := range fields[1:] {
		if param == "" {
			continue
		}
		key, value, _ := strings.Cut(param, "=")
		req.Params[key] = value
	}
	return req, nil
}
