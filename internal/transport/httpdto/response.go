// Package httpdto holds the JSON envelope every REST reply is wrapped in.
package httpdto

import pulse_errors "pulse-dm/pkg/errors"

// Response is {success, data} on success and {success, error, code} on
// failure. Code is one of the stable error codes in pkg/errors.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(msg string, code string) Response[any] {
	return Response[any]{Error: msg, Code: code}
}

// NewErrorFor derives the code from err's sentinel. An empty msg falls back
// to err's text.
func NewErrorFor(err error, msg string) Response[any] {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return NewErrorResponse(msg, pulse_errors.Code(err))
}

