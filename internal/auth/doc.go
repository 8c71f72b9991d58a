// Package auth enforces API key authentication on the gRPC ingest service
// and the HTTP API.
//
// The expected key is either a plaintext value or a bcrypt hash, both read
// from environment variables named in the config. When neither is set, or the
// mode is not "apikey", every request is allowed.
package auth
