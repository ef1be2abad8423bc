package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"pkt.systems/farmd/client"
	"pkt.systems/farmd/internal/svcfields"
)

// newProducerCommand builds the REST producer: a standalone feeder process
// that submits random amounts against a running farmd server.
func newProducerCommand(baseLogger pslog.Logger) *cobra.Command {
	var (
		server   string
		resource string
		interval time.Duration
		count    int
		minAmt   float64
		maxAmt   float64
	)

	cmd := &cobra.Command{
		Use:   "producer",
		Short: "Feed a running farmd server over REST with random submissions",
		Example: `
  # Submit food and water forever, one submission per second
  farmd producer --server http://127.0.0.1:9441

  # Exactly 100 water submissions, ten per second
  farmd producer --server http://127.0.0.1:9441 --resource water --interval 100ms --count 100
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := svcfields.WithSubsystem(baseLogger, "producer")
			ctx := cmd.Context()

			switch resource {
			case "food", "water", "both":
			default:
				return fmt.Errorf("invalid --resource %q (want food, water, or both)", resource)
			}
			if maxAmt < minAmt {
				return fmt.Errorf("--max-amount %v is below --min-amount %v", maxAmt, minAmt)
			}

			c, err := client.New(server, client.WithLogger(logger))
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			limiter := rate.NewLimiter(rate.Every(interval), 1)

			for i := 0; count <= 0 || i < count; i++ {
				if err := limiter.Wait(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				kind := resource
				if kind == "both" {
					kind = "food"
					if rng.Intn(2) == 1 {
						kind = "water"
					}
				}
				amount := minAmt + rng.Float64()*(maxAmt-minAmt)
				callCtx := client.WithCorrelationID(ctx, client.GenerateCorrelationID())
				accepted, submitErr := submitOne(callCtx, c, kind, amount)
				if submitErr != nil {
					logger.Warn("submission failed", "resource", kind, "error", submitErr)
					continue
				}
				if accepted {
					logger.Info("submission accepted", "resource", kind, "amount", amount)
				} else {
					logger.Info("submission rejected", "resource", kind, "amount", amount)
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&server, "server", "http://127.0.0.1:9441", "farmd server base URL")
	flags.StringVar(&resource, "resource", "both", "what to submit (food, water, or both)")
	flags.DurationVar(&interval, "interval", time.Second, "pacing between submissions")
	flags.IntVar(&count, "count", 0, "stop after this many submissions (0 runs forever)")
	flags.Float64Var(&minAmt, "min-amount", 1, "minimum random amount per submission")
	flags.Float64Var(&maxAmt, "max-amount", 100, "maximum random amount per submission")

	return cmd
}

func submitOne(ctx context.Context, c *client.Client, kind string, amount float64) (bool, error) {
	if kind == "water" {
		result, err := c.SubmitWater(ctx, amount)
		return result.IsAccepted, err
	}
	result, err := c.SubmitFood(ctx, amount)
	return result.IsAccepted, err
}
