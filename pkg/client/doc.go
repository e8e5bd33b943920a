// Package client is the Go SDK for the researchd ledger service.
//
// A capture station creates a session, starts it and records events:
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, _ := c.CreateSession(ctx, "")
//	_, _ = c.Start(ctx, s.ID, map[string]any{"site": "A"})
//	_, _ = c.Record(ctx, s.ID, "CASE_LOADED", map[string]any{"caseId": "X1"})
//	_, _ = c.Record(ctx, s.ID, "FINAL_ASSESSMENT", map[string]any{"score": 4})
//
// # Verification and export
//
// Verify returns the same document that is written into export bundles.
// Export downloads the bundle as a zip together with its root hash and trust
// flag:
//
//	v, _ := c.Verify(ctx, s.ID)
//	fmt.Println(v.Result)
//
//	res, err := c.Export(ctx, s.ID, map[string]string{"notes.txt": "reviewed"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile(s.ID+".zip", res.Zip, 0o644)
//
// Server errors are returned as *APIError. errors.Is matches ErrNotFound and
// ErrConflict for 404 and 409 responses.
package client
