package fakeserver

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type RequestError struct {
	ErrorMsg string
}

func (m *RequestError) Error() string {
	return m.ErrorMsg
}

type NotFoundError struct {
	ErrorMsg string
}

func (m *NotFoundError) Error() string {
	return m.ErrorMsg
}

func grpcError(err error) error {
	var notFound *NotFoundError
	var bad *RequestError
	switch {
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &bad):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// the HTTP endpoint reports every request failure as 400, like the server it stands in for
func httpStatus(err error) int {
	var notFound *NotFoundError
	var bad *RequestError
	if errors.As(err, &notFound) || errors.As(err, &bad) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
