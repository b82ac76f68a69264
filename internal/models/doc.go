// Package models defines the shared ledger types exchanged between the
// backing service, the sync engine and the views.
//
// # Models
//
//   - Group: a ledger scope with people and receipts
//   - Receipt: one purchase, its own subset of people and its entries
//   - Entry: a line item, optionally assigned to some of the receipt's people
//   - Version: opaque token that changes whenever anything in the group changes
//
// People are identified by name strings, unique within a group.
//
// # Immutability
//
// A *Group handed out by the sync engine is a snapshot: it is never modified
// after publication. The With*/Without* helpers return modified copies that
// share every untouched receipt and entry with the original, so producing a
// new snapshot after a small change copies only the path to that change.
//
// # Invariants
//
//  1. Every assigned name of an entry is one of the receipt's people
//  2. Every receipt person is one of the group's people
//  3. PaidBy, when set, is one of the receipt's people
//  4. Price >= 0
//
// Validate reports the first violated invariant.
package models
