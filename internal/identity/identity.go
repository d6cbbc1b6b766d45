// Package identity implements principal addressing and token derivation.
//
// It provides:
//   - DeriveAddress: one-way address for a principal name
//   - DeriveToken: one-way file token binding a fingerprint to an address
//   - Registry: persisted principal → address mapping (file, memory, postgres)
//   - SessionIssuer: HS256 JWT tickets for authorized edit sessions
//   - RequireTicket: Gin middleware enforcing a Bearer session ticket
package identity
