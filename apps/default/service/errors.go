package service

import (
	"errors"

	"connectrpc.com/connect"
)

var (
	ErrUnspecifiedID = connect.NewError(connect.CodeInvalidArgument, errors.New("no id was supplied"))

	// ErrConnectionNameRequired is returned when a connection name is not provided.
	ErrConnectionNameRequired = connect.NewError(
		connect.CodeInvalidArgument,
		errors.New("connection name is required"),
	)
	ErrConnectionNotFound = connect.NewError(connect.CodeNotFound, errors.New("connection not found"))
	ErrConnectionExists   = connect.NewError(
		connect.CodeAlreadyExists,
		errors.New("a connection with this id already exists"),
	)
	ErrConnectionGone = connect.NewError(
		connect.CodeFailedPrecondition,
		errors.New("connection is being deleted"),
	)
	ErrConnectionRegistryFull = connect.NewError(
		connect.CodeResourceExhausted,
		errors.New("connection registry is at capacity"),
	)

	// ErrUpstreamUnavailable is returned when the session is not open for sending.
	ErrUpstreamUnavailable = connect.NewError(
		connect.CodeUnavailable,
		errors.New("whatsapp session is not connected"),
	)
	ErrSendTimeout = connect.NewError(
		connect.CodeDeadlineExceeded,
		errors.New("timed out waiting for upstream send"),
	)

	// ErrRecipientRequired is returned when an outbound message has no destination.
	ErrRecipientRequired = connect.NewError(
		connect.CodeInvalidArgument,
		errors.New("message recipient is required"),
	)
	ErrMessageContentRequired = connect.NewError(
		connect.CodeInvalidArgument,
		errors.New("message content is required"),
	)
	ErrConversationNotFound = connect.NewError(connect.CodeNotFound, errors.New("conversation not found"))
	ErrMessageNotFound      = connect.NewError(connect.CodeNotFound, errors.New("message not found"))

	ErrInvalidCursor = connect.NewError(
		connect.CodeInvalidArgument,
		errors.New("pagination cursor is malformed"),
	)
)
