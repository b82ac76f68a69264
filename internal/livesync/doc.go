// Package livesync keeps an in-memory snapshot of one group converged with
// the backing service while local edits are applied optimistically.
//
// A Coordinator owns the snapshot for one open group view. It learns about
// remote changes through a Channel (PushChannel over WebSocket or
// PollChannel over the version endpoint), refetches canonical state, and
// replaces the snapshot wholesale. Local intents are applied to a
// copy-on-write snapshot first, recorded in a PendingTable with their
// pre-image, then sent; a rejection restores the pre-image and forces a full
// refresh.
//
// All snapshot changes happen on the coordinator's own goroutine. Network
// calls run on separate goroutines and post their results back, tagged with
// a sequence number so a late, older response never replaces a newer one.
// Consumers observe the coordinator through typed events delivered to the
// Handlers given at construction.
package livesync
