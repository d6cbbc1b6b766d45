// Package client is the filewarden Go SDK.
//
// It wraps the wardend HTTP API: uploading files for protection, requesting
// and completing authorized edits, and reading the ledger and activity log.
//
// # Uploading a file
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.UploadFile(ctx, "config.yaml", "alice")
//	fmt.Println(res.Token) // keep this; it is required to edit the file later
//
// # Editing a protected file
//
// Modify asks the daemon to suspend enforcement for one file. The returned
// session ticket must accompany Done (or Cancel):
//
//	grant, err := c.Modify(ctx, "config.yaml", res.Token, "alice")
//	var denied *client.DeniedError
//	if errors.As(err, &denied) {
//	    fmt.Println("refused:", denied.Reason)
//	}
//	// ... edit the watched copy ...
//	block, err := c.Done(ctx, "config.yaml", grant.SessionTicket)
//
// Cancel restores the pre-edit content instead of recording the edit.
//
// # Persisting tickets
//
// TicketStore saves tickets under ~/.warden/sessions so that separate CLI
// invocations can start and finish a session.
package client
