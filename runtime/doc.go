// Package runtime is the session core that keeps one agent process
// synchronized with the platform's multi-room event stream: the dispatcher
// and room map, the per-room presence state machine, the turn accumulator
// that serializes adapter invocations, delivery deduplication, and the
// room-scoped tools handed to adapters.
//
// The Runtime owns a single Platform link and a map of room id to Presence.
// Inbound events flow link -> dispatcher -> Presence -> Execution -> Adapter,
// and outbound actions flow Adapter -> Tools -> link. Failures inside an
// adapter invocation are contained to that room.
package runtime
