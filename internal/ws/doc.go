// Package ws pushes live stream state to UI clients over WebSocket.
//
// The Hub sends the current snapshot to each client as soon as it connects,
// then on every broadcast tick. Alert edges and session stops trigger an
// extra broadcast right away so the UI reacts without waiting for the tick.
// Clients that cannot keep up with the broadcast rate are disconnected.
package ws
