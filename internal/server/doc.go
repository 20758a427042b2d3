// Package server implements the realtime presence and direct-messaging relay.
//
// Clients connect over WebSocket, register an identity and exchange private
// messages and typing signals through the Hub, which also tracks who is
// online and keeps a bounded history per conversation. The implementation is
// organized into files for configuration, the three stores (registry,
// directory, threads), envelope encoding, routing, broadcast, the idle
// reaper, clients and the HTTP surface.
package server
