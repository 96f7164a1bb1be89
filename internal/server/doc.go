// Package server wires the HTTP surface: the websocket endpoint the gateway
// lives behind, health and version endpoints, prometheus metrics, and
// optional static file serving for the classroom client.
package server
