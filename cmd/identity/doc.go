// Package identity is the credential-store boundary: durable user records
// keyed by email, holding a salted password hash.
//
// The password hash is exposed only through UserAuth and must never leave the
// session controller boundary.
package identity
