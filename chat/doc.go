// Package chat is the Twitch IRC front of the event pipeline.
//
// It wraps the IRC transport, normalizes every protocol callback into one
// typed domain event published on the bus, correlates the client's own
// id-less outbound messages with the ids the server assigns them, and
// executes slash commands against the Helix API.
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with chat:read/chat:edit scopes, or it can connect anonymously for
// read-only use. An authentication failure from the server triggers the
// configured refresh callback and a reconnect with the new token.
package chat
