// Package keys provides the identity layer: public keys, signatures, and
// keypairs over a closed set of signature schemes.
//
// Keys and signatures are immutable values compared by their canonical
// encoded bytes. Verification is a pure function over byte buffers and is
// safe for concurrent use.
package keys
