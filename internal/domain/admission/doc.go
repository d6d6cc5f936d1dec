// Package admission bounds concurrent sandbox execution per surface.
//
// The gate is a reference-counted reservation protocol:
//
//	reserve -> confirm-or-reject -> release
//
// Reserve claims a slot and returns an opaque token; Confirm promotes the
// token to the run ID once the sandbox signals ready; Release frees the
// slot and is always safe to call again. Sessions release on dispose, so
// a reservation can never leak past its owner's lifetime.
package admission
