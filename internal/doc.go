// Package internal holds small helpers shared across factorgate packages:
// session handle and reservation token generation backed by crypto/rand.
// Nothing here is part of the public API.
package internal
