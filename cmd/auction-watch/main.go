// Command auction-watch follows one auction item over the WebSocket API and
// optionally bids on it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"coralcrave-auction-service/internal/adapters/wsclient"
	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/auction"
	"coralcrave-auction-service/internal/domain/bid"
	"coralcrave-auction-service/internal/domain/increment"
	"coralcrave-auction-service/internal/domain/shared"
	"coralcrave-auction-service/internal/projector"
)

const (
	flagURL      = "url"
	flagToken    = "token"
	flagItem     = "item"
	flagLive     = "live"
	flagBid      = "bid"
	flagMaxBid   = "max-bid"
	flagLimit    = "limit"
	flagTick     = "tick"
	flagLadder   = "ladder"
	flagLogLevel = "log-level"
)

type options struct {
	url      string
	token    string
	itemID   uuid.UUID
	liveID   uuid.UUID
	bid      float64
	maxBid   float64
	limit    int
	tick     time.Duration
	ladder   string
	logLevel string
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		pflag.Usage()
		os.Exit(2)
	}

	initLogging(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Watcher stopped")
	}
}

func loadOptions(args []string) (options, error) {
	flags := pflag.CommandLine
	flags.String(flagURL, "ws://localhost:8080/ws", "auction service WebSocket endpoint")
	flags.String(flagToken, "", "bearer token; required to bid")
	flags.String(flagItem, "", "item id to follow")
	flags.String(flagLive, "", "live session id of the item; required to bid")
	flags.Float64(flagBid, 0, "place one bid of this amount once the item is running")
	flags.Float64(flagMaxBid, 0, "set a standing maximum bid once the item is running")
	flags.Int(flagLimit, 20, "number of recent bids to keep")
	flags.Duration(flagTick, time.Second, "local countdown tick")
	flags.String(flagLadder, "", `increment ladder override, e.g. "20:1,100:2,500:5,*:10"`)
	flags.String(flagLogLevel, "info", "log level")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("WATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return options{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	opts := options{
		url:      v.GetString(flagURL),
		token:    v.GetString(flagToken),
		bid:      v.GetFloat64(flagBid),
		maxBid:   v.GetFloat64(flagMaxBid),
		limit:    v.GetInt(flagLimit),
		tick:     v.GetDuration(flagTick),
		ladder:   v.GetString(flagLadder),
		logLevel: v.GetString(flagLogLevel),
	}

	itemID, err := uuid.Parse(v.GetString(flagItem))
	if err != nil {
		return options{}, fmt.Errorf("--%s must be an item id: %w", flagItem, err)
	}
	opts.itemID = itemID

	if raw := v.GetString(flagLive); raw != "" {
		liveID, err := uuid.Parse(raw)
		if err != nil {
			return options{}, fmt.Errorf("--%s must be a live session id: %w", flagLive, err)
		}
		opts.liveID = liveID
	}
	if (opts.bid > 0 || opts.maxBid > 0) && (opts.token == "" || opts.liveID == uuid.Nil) {
		return options{}, fmt.Errorf("bidding needs --%s and --%s", flagToken, flagLive)
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	registry, err := buildRegistry(opts.ladder)
	if err != nil {
		return err
	}

	client, err := wsclient.Dial(ctx, wsclient.Params{URL: opts.url, Token: opts.token, Logger: log.Logger})
	if err != nil {
		return err
	}
	defer client.Close()

	p, err := projector.New(projector.Params{
		Source:       client,
		Bids:         client,
		Increments:   registry,
		TickInterval: opts.tick,
		BidLimit:     opts.limit,
		Logger:       log.Logger,
	})
	if err != nil {
		return err
	}
	defer p.Unsubscribe()

	finished := make(chan struct{})
	running := make(chan struct{})
	var closedOnce, runningOnce bool

	err = p.SubscribeToItem(ctx, opts.itemID, projector.Handlers{
		OnStateUpdate: func(item *auction.Item) {
			event := log.Info().
				Str("title", item.Title).
				Str("status", string(item.Status)).
				Float64("price", item.CurrentPrice).
				Float64("minimum_bid", p.CalculateMinimumBid(item.CurrentPrice)).
				Int64("version", item.Version)
			if item.LeadingBidderName != "" {
				event = event.Str("leader", item.LeadingBidderName)
			}
			event.Msg("Item updated")

			if item.IsRunning() && !runningOnce {
				runningOnce = true
				close(running)
			}
			if item.IsTerminal() && !closedOnce {
				closedOnce = true
				close(finished)
			}
		},
		OnBidUpdate: func(b *bid.Bid) {
			log.Info().
				Str("bidder", b.Username).
				Float64("amount", b.Amount).
				Str("source", string(b.Source)).
				Time("at", b.Timestamp).
				Msg("New bid")
		},
		OnTimerUpdate: func(_ uuid.UUID, left time.Duration) {
			log.Debug().Dur("time_left", left).Msg("Countdown")
			if left > 0 && left <= 10*time.Second && left%time.Second == 0 {
				log.Info().Str("time_left", left.String()).Msg("Closing soon")
			}
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("Subscription error")
		},
	})
	if err != nil {
		return err
	}

	if opts.bid > 0 || opts.maxBid > 0 {
		select {
		case <-running:
			submitIntents(ctx, p, opts)
		case <-finished:
		case <-client.Done():
			return wsclient.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-finished:
		state, _ := p.State()
		if state.Item != nil {
			log.Info().Str("status", string(state.Item.Status)).Float64("final_price", state.Item.CurrentPrice).Msg("Auction finished")
		}
		return nil
	case <-client.Done():
		return wsclient.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func submitIntents(ctx context.Context, p *projector.Projector, opts options) {
	if opts.maxBid > 0 {
		outcome, err := p.SetMaxBid(ctx, opts.liveID, opts.itemID, opts.maxBid)
		logOutcome("Max bid", outcome, err)
	}
	if opts.bid > 0 {
		if state, ok := p.State(); ok && state.Item != nil {
			if check := p.ValidateBid(opts.bid, state.Item.CurrentPrice); !check.Valid {
				log.Warn().Float64("amount", opts.bid).Float64("minimum_bid", check.MinimumBid).Msg("Bid looks too low, sending anyway")
			}
		}
		outcome, err := p.PlaceBid(ctx, opts.liveID, opts.itemID, opts.bid)
		logOutcome("Bid", outcome, err)
	}
}

func logOutcome(what string, outcome *projector.BidOutcome, err error) {
	if err != nil {
		log.Warn().Err(err).Str("code", string(shared.CodeOf(err))).Bool("retryable", shared.IsRetryable(err)).Msg(what + " rejected")
		return
	}
	log.Info().Float64("highest_bid", outcome.HighestBid).Msg(what + " accepted")
}

func buildRegistry(ladder string) (*increment.Registry, error) {
	def := increment.DefaultLadder()
	if ladder != "" {
		parsed, err := config.ParseLadder(increment.DefaultSchemeID, ladder)
		if err != nil {
			return nil, err
		}
		def = parsed
	}
	return increment.NewRegistry(def)
}

func initLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}
