// Package platform provides the live link to the Thenvoi platform.
//
// It contains two transport halves. [REST] is a typed HTTP client for the
// platform's request/response API: agent metadata, room history, participant
// management, and the message lifecycle endpoints (next/processing/processed/
// failed). [Link] owns the persistent websocket channel: it dials,
// authenticates, keeps the connection alive with heartbeats, reconnects with
// capped exponential backoff after unexpected disconnects, and delivers every
// inbound frame to a single registered handler in wire order.
//
// Link has no room semantics. It decodes frames into [Event] values and hands
// them off; routing, deduplication, and per-room state belong to the runtime
// package. Outbound sends go over the websocket and wait for the platform's
// ack; if the channel is down they transparently fall back to the REST API so
// messages are not lost during a reconnect window.
//
// All API errors are typed: rejected credentials return [ErrAuth] (terminal,
// never retried), network failures return [*TransportError] (retried with
// backoff at the Link level), and well-formed requests rejected by the
// platform return [*PlatformError] carrying the platform error code and HTTP
// status.
package platform
