package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	farmd "pkt.systems/farmd"
	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/rpc"
	"pkt.systems/farmd/internal/svcfields"
)

// startDemoProducers launches n goroutines that feed the farm over the broker
// RPC protocol, each with its own client and private reply queue. They stop
// when ctx is canceled.
func startDemoProducers(ctx context.Context, server *farmd.Server, n int, interval time.Duration, logger pslog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	for i := 0; i < n; i++ {
		go runDemoProducer(ctx, server, i, interval, logger)
	}
}

func runDemoProducer(ctx context.Context, server *farmd.Server, id int, interval time.Duration, logger pslog.Logger) {
	logger = svcfields.WithSubsystem(logger, fmt.Sprintf("producer.%d", id))
	c := rpc.NewClient(server.Broker(), farmd.DefaultInboundQueue, rpc.WithClientLogger(logger))
	defer c.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		action := api.ActionSubmitFood
		if rng.Intn(2) == 1 {
			action = api.ActionSubmitWater
		}
		amount := 1 + rng.Float64()*99
		reply, err := c.Call(ctx, action, api.SubmitRequest{Amount: amount})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("submission failed", "action", action, "error", err)
			continue
		}
		var result api.SubmitResult
		if err := json.Unmarshal(reply, &result); err != nil {
			logger.Warn("undecodable reply", "action", action, "error", err)
			continue
		}
		if result.IsAccepted {
			logger.Info("submission accepted", "action", action, "amount", amount)
		} else {
			logger.Info("submission rejected", "action", action, "amount", amount, "reason", result.FailReason)
		}
	}
}
