// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package modulerpc

import (
	"errors"

	"github.com/samber/oops"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/holomush/modhost/pkg/plugin"
)

// toStatus maps Core sentinel errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, plugin.ErrSubsystemNotFound):
		code = codes.NotFound
	case errors.Is(err, plugin.ErrSubsystemAlreadyRegistered):
		code = codes.AlreadyExists
	case errors.Is(err, plugin.ErrCapabilityDenied):
		code = codes.PermissionDenied
	case errors.Is(err, plugin.ErrInvalidSubsystem):
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}

// fromStatus restores the Core sentinel a status code stands for so plugins
// can match remote failures with errors.Is.
func fromStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return oops.In("modulerpc").With("method", method).Wrap(err)
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = plugin.ErrSubsystemNotFound
	case codes.AlreadyExists:
		sentinel = plugin.ErrSubsystemAlreadyRegistered
	case codes.PermissionDenied:
		sentinel = plugin.ErrCapabilityDenied
	case codes.InvalidArgument:
		sentinel = plugin.ErrInvalidSubsystem
	default:
		return oops.In("modulerpc").With("method", method).With("grpc_code", st.Code().String()).Errorf("%s", st.Message())
	}
	return oops.In("modulerpc").With("method", method).Wrapf(sentinel, "%s", st.Message())
}
