// Package warden implements the file lifecycle around the guard: uploads
// that mint a token and the first ledger block, and the authorization state
// machine that gates human edits.
//
// A modify request moves through
//
//	PendingVerification -> Granted | Denied
//	Granted -> EditingInProgress -> Completed | Abandoned
//
// While a session is open the guard does not enforce the path. Completion
// appends an edit block carrying the new fingerprint and the original
// owner and token; abandonment (explicit cancel or timeout) restores the
// pre-edit backup and resumes enforcement against the pre-edit fingerprint.
package warden
