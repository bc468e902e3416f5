// Package relay implements real-time chat relay transport for connected
// participants.
//
// It keeps WebSocket lifecycle, session registration, and event fan-out
// isolated from any rendering or persistence concern: the server is a pure
// relay, and all conversation state is rebuilt client-side from the event
// stream.
package relay
