// Package protocol defines the JSON messages exchanged on the registry's duplex
// channel, the gateway's request/response bodies and the shell IPC stream.
// Inbound messages are validated with go-playground/validator struct tags.
package protocol
