// Package offline provides the offline caching and background-synchronization
// engine for the help-desk web client.
//
// The engine intercepts application requests and serves them through a set of
// versioned cache partitions, falling back gracefully when the network is
// unavailable. Key features:
//   - four caching policies: cache-first, network-first with a timeout,
//     stale-while-revalidate, and a network-first default
//   - versioned cache partitions, swept on activation so a version bump
//     supersedes every partition of older versions
//   - tiered offline fallback (cached offline page for navigations, cached
//     API responses, synthesized 503 as the floor)
//   - a durable write queue for mutations made offline, drained in strict
//     submission order when the host signals restored connectivity
//   - filesystem abstraction for cache storage and testing
//
// Basic usage:
//
//	engine, err := offline.New()
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	// Create the cache partitions and precache the application shell.
//	if err := engine.Install(ctx); err != nil {
//	    return err
//	}
//	if err := engine.Activate(ctx); err != nil {
//	    return err
//	}
//
//	// Serve a request through the cache.
//	res, err := engine.HandleRequest(ctx, req)
//
//	// Queue a mutation made offline, then drain when connectivity returns.
//	id, err := engine.Enqueue(ctx, offline.StoreTickets, offline.Mutation{
//	    Resource: offline.ResourceTicket,
//	    Payload:  payload,
//	    Token:    token,
//	})
//	err = engine.HandleSync(ctx, offline.SyncTagTickets)
//
// See the README for detailed documentation and examples.
package offline
