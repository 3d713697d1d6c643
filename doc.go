// Package websocket is a server side implementation of the WebSocket
// protocol.
//
// A Server accepts raw TCP or TLS streams from a Listener, performs the
// opening handshake and hands every decoded frame of a connection to
// the Handler created for it. A Server is also an http.Handler so it
// can be mounted on an existing router.
//
// There is no public constructor for a Conn. A raw stream that did not
// come from a Listener is upgraded and served with Server.ServeConn,
// which runs the handshake and hands the Conn to the Handler.
//
// Frames are encoded and decoded with Encode and Decode, which can be
// used on their own. Decode rejects control frames that are fragmented
// or carry more than 125 bytes.
//
// Messages are single frames. Fragmented messages are not reassembled
// and compression is not supported.
//
// See https://tools.ietf.org/html/rfc6455
package websocket
