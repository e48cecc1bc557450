// Package password wraps bcrypt hashing for stored credentials.
//
// Plaintext passwords exist only transiently in this package and in the
// session controller; they are never logged, stored, or serialized.
package password
