// Package domain models citizen incident reports and their triage state.
//
// # Reports
//
// A report is free text typed by a citizen, usually on a phone and often in
// a mix of English and Tagalog ("Taglish"). Spelling is loose and words are
// frequently glued together ("stuckonroof", "bahasasabang"). Reports arrive
// over the HTTP API or, when enabled, from the SMS gateway topic on Kafka.
//
// # Posts
//
// Every accepted report becomes a [Post]. The citizen-visible part (id,
// author, content, created_at) is immutable. The operator-only part lives in
// [Triage]: the classifier [Judgment] plus the workflow [Status].
//
// Citizen reads never see [Triage]; see [Post.Masked].
//
// # Workflow
//
//	NEW → ACK → VALIDATED → RESOLVED
//
// Status only moves forward. An operator override may move a post backwards
// but never back to NEW. See [CanTransition].
//
// # Location
//
// Coordinates come from a fixed barangay table for Lipa City, Batangas. When
// no location is recognized the post is pinned to the fallback marker and
// LocationText stays empty.
package domain
