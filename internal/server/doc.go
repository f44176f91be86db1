// Package server implements the WebSocket side of the room relay.
//
// A Relay owns one RoomRegistry and one presence tracker for the life of the
// process. Every accepted connection becomes a Client (the connection handle)
// driven by a Session, which joins the room, reports presence events and
// relays text frames to the other members. The remaining files hold the
// configuration, origin checks, rate limiting and HTTP plumbing around it.
package server
