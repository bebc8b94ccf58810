// Package vfs defines the protocol spoken between the filesystem binding and
// the native collaborator that performs the actual filesystem work.
//
// Every call from the binding is a flat message carrying a command name and,
// for asynchronous calls, a reply ID. The collaborator answers with a reply
// that echoes the reply ID and either an error code or a command-specific
// payload. vfs only describes the messages; encoding lives in the wire
// package, correlation in correlate, and delivery in transport.
//
// vfs can be used with any kind of host channel. The grpcvfs package
// provides one over gRPC, and vfstest provides an in-process loopback.
package vfs

import "context"

// Request is used for command-specific request bodies which are sent by the
// binding to the collaborator.
type Request interface {
	vfsRequest()
}

// Payload is used for command-specific reply bodies which are sent from the
// collaborator after processing a request.
type Payload interface {
	vfsPayload()
}

// MessageListener is invoked for every message delivered by a Channel. A
// returned error reports that the single message could not be processed; it
// must never close the channel.
type MessageListener func(msg []byte) error

// Channel is the host-provided message pipe to the collaborator. See
// subpackages for available channels.
type Channel interface {
	// PostMessage submits msg one-way. Replies, if any, arrive later through
	// the installed MessageListener.
	PostMessage(msg []byte) error

	// SendSyncMessage submits msg and blocks until the collaborator answers it.
	// Only one synchronous message may be in flight at a time.
	SendSyncMessage(ctx context.Context, msg []byte) ([]byte, error)

	// SetMessageListener installs l as the receiver for inbound messages,
	// replacing any previous listener. A nil listener drops messages.
	SetMessageListener(l MessageListener)

	// Close the channel.
	Close() error
}
