// Package proto defines the query protocol spoken between a driver session and
// a server: query and response kinds, term kinds and the frame codec.
package proto

import (
	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
)

// QueryType is the kind of a request frame.
type QueryType uint8

const (
	QueryStart QueryType = iota + 1
	QueryContinue
	QueryStop
	QueryNoreplyWait
	QueryAuth
)

func (t QueryType) String() string {
	switch t {
	case QueryStart:
		return "START"
	case QueryContinue:
		return "CONTINUE"
	case QueryStop:
		return "STOP"
	case QueryNoreplyWait:
		return "NOREPLY_WAIT"
	case QueryAuth:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// ResponseType is the kind of a response frame.
type ResponseType uint8

const (
	ResponseAtom         ResponseType = 1
	ResponseSequence     ResponseType = 2
	ResponsePartial      ResponseType = 3
	ResponseWaitComplete ResponseType = 4
	ResponseClientError  ResponseType = 16
	ResponseCompileError ResponseType = 17
	ResponseRuntimeError ResponseType = 18
)

func (t ResponseType) String() string {
	switch t {
	case ResponseAtom:
		return "SUCCESS_ATOM"
	case ResponseSequence:
		return "SUCCESS_SEQUENCE"
	case ResponsePartial:
		return "SUCCESS_PARTIAL"
	case ResponseWaitComplete:
		return "WAIT_COMPLETE"
	case ResponseClientError:
		return "CLIENT_ERROR"
	case ResponseCompileError:
		return "COMPILE_ERROR"
	case ResponseRuntimeError:
		return "RUNTIME_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsError reports whether the response carries an error message.
func (t ResponseType) IsError() bool {
	return t >= ResponseClientError
}

// Query is one logical request. The token travels in the frame header; Opts
// holds plain run options (db, noreply, durability, read_mode,
// max_batch_rows, auth_key).
type Query struct {
	Token uint64                 `msgpack:"-"`
	Type  QueryType              `msgpack:"t"`
	Term  *Term                  `msgpack:"q,omitempty"`
	Opts  map[string]interface{} `msgpack:"o,omitempty"`
}

// StringOpt returns a string run option.
func (q *Query) StringOpt(name string) (string, bool) {
	v, ok := q.Opts[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolOpt returns a boolean run option, false when absent.
func (q *Query) BoolOpt(name string) bool {
	b, _ := q.Opts[name].(bool)
	return b
}

// IntOpt returns an integer run option. Loose decoding yields int64, uint64
// or float64 depending on the encoded width.
func (q *Query) IntOpt(name string) (int, bool) {
	switch v := q.Opts[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Response is one logical reply. Error responses carry the message as their
// only result.
type Response struct {
	Token   uint64                `msgpack:"-"`
	Type    ResponseType          `msgpack:"t"`
	Results []datum.Datum         `msgpack:"r,omitempty"`
	Code    domain.QueryErrorCode `msgpack:"e,omitempty"`
}

// ErrorMessage returns the message of an error response.
func (r *Response) ErrorMessage() string {
	if len(r.Results) == 0 {
		return ""
	}
	if s, ok := r.Results[0].AsString(); ok {
		return s
	}
	return r.Results[0].String()
}

// NewErrorResponse builds an error reply for token.
func NewErrorResponse(token uint64, typ ResponseType, code domain.QueryErrorCode, msg string) *Response {
	return &Response{
		Token:   token,
		Type:    typ,
		Results: []datum.Datum{datum.String(msg)},
		Code:    code,
	}
}

// Err converts an error response into the driver's error taxonomy.
func (r *Response) Err() error {
	switch r.Type {
	case ResponseClientError:
		return &domain.ProtocolError{Msg: r.ErrorMessage()}
	case ResponseCompileError:
		return &domain.QueryError{Code: domain.CodeCompile, Msg: r.ErrorMessage()}
	case ResponseRuntimeError:
		return &domain.QueryError{Code: r.Code, Msg: r.ErrorMessage()}
	default:
		return nil
	}
}
