// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing core model objects (threads,
// messages, tool calls) and draining event streams. They are not intended
// for production usage.
package testutil
