// Package rest is the shared JSON transport for hosts without a Go SDK.
// Responses are parsed with gjson by the host adapters.
package rest
