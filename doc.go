// Package genquota provides a monthly generation quota ledger for Go
// applications.
//
// Genquota is designed as a library, not a service. It tracks how many
// billable generations (moodboards, renders, textures, upscales) each user
// has run in the current calendar month, answers whether they still have
// allowance left, and keeps an append-only history of what was generated.
// It provides:
//
//   - An advisory Quota Gate that never reserves allowance
//   - A lock-free Usage Counter built on the store's atomic increment
//   - A History Recorder that strips inline binary blobs from payloads
//   - Pluggable document stores (memory, MongoDB, PostgreSQL, SQLite, Redis)
//   - Plugin hooks for metrics and audit trails
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/genquota"
//	    "github.com/xraph/genquota/store/mongo"
//	)
//
//	s := mongo.New(client.Database("app"))
//
//	q := genquota.New(s, genquota.WithDefaultLimit(50))
//	if err := q.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Stop()
//
// # Core Concepts
//
// Every user has one usage period document per UTC calendar month, keyed
// "{userId}:{YYYY-MM}". A new month starts from zero.
//
// Check before doing the expensive work, then count it:
//
//	res, err := q.CheckQuota(ctx, userID, 50)
//	if err != nil {
//	    // Unable to confirm the quota. Neither allow nor deny.
//	}
//	if !res.Allowed {
//	    // Out of generations this month.
//	}
//
//	// ... run the generation ...
//
//	if err := q.IncrementUsage(ctx, userID, generation.TypeRender, 1); err != nil {
//	    // The render succeeded but its count was not updated.
//	}
//	recordID, err := q.RecordGeneration(ctx, history.Input{
//	    UserID: userID,
//	    Type:   generation.TypeRender,
//	    Prompt: prompt,
//	})
//
// CheckQuota is advisory: two concurrent callers can both be allowed the
// last generation. IncrementUsage and RecordGeneration are independent
// writes; either can succeed while the other fails.
//
// # Concurrency
//
// IncrementUsage never reads a document and writes it back. It patches the
// period with the backend's atomic increment, creates the period when it
// does not exist, and retries the patch once when another writer created it
// first. Concurrent increments for the same user and month are never lost or
// applied twice.
//
// # Errors
//
// Store errors are returned unchanged inside an *OpError naming the failed
// operation. Use IsQuotaCheckFailure, IsUsageUpdateFailure and
// IsHistoryFailure to choose the message shown to the user, and Classify to
// inspect the underlying store error.
//
// # TypeID
//
// Generation records use TypeID identifiers:
//
//	gen_01h2xcejqtf2nbrexx3vqjhp41  // Generation record ID
//
// TypeIDs are K-sortable, so records sort by creation time.
package genquota
