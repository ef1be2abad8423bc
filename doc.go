// Package farmd exposes the Go APIs behind the farm resource simulator: a
// single mutex-guarded ledger that banks submitted food and water, a periodic
// consumption scheduler that drains it, and a request/reply RPC layer running
// over an asynchronous message broker.
//
// # Running a server
//
// The server listens on the network specified by `Config.ListenProto` (default
// `tcp`) and address `Config.Listen`.
//
//	cfg := farmd.Config{
//	    Listen:       ":9441",
//	    TickInterval: 2 * time.Second,
//	}
//	srv, err := farmd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("farmd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("farmd shutdown: %v", err)
//	    }
//	}()
//
// Producers can talk to the farm two ways. REST producers POST amounts to
// /v1/submit/food and /v1/submit/water (package client wraps this). Broker
// producers publish SubmitFood/SubmitWater envelopes to the shared inbound
// queue and block on a private reply queue; internal/rpc implements both
// halves of that exchange and the server registers the ledger handlers at
// construction time.
//
// # Farm mechanics
//
// Every accepted submission adds to the matching balance. On each tick the
// farm draws a random demand per resource, scales it by a coefficient that
// grows logarithmically with everything consumed so far, and subtracts it
// from the balance. A draw the balance cannot cover is a failed round, and
// too many consecutive failed rounds of the same resource collapse the farm
// back to zero. Growing past the size cap instead enters a selling phase
// that rejects submissions until it expires.
package farmd
