// Package store provides the key/value capability agents use for caching and
// for persisting workflow executions.
//
// Two implementations are available: MemoryStore, for single-process
// deployments and tests, and SQLiteStore, backed by modernc.org/sqlite (pure
// Go, no cgo). Open picks one from a path: empty means memory.
//
//	kv, err := store.Open(cfg.StorePath)
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
//	err = store.SetJSON(ctx, kv, "pricing:"+productID, result, 15*time.Minute)
package store
