package atties

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	stdslog "log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/optisync"
	"github.com/unkn0wn-root/optisync/atties"
	"github.com/unkn0wn-root/optisync/genstore"
	asynchook "github.com/unkn0wn-root/optisync/hooks/async"
	"github.com/unkn0wn-root/optisync/internal/platform/config"
	"github.com/unkn0wn-root/optisync/internal/platform/logging"
	logruslog "github.com/unkn0wn-root/optisync/log/logrus"
	slogadapter "github.com/unkn0wn-root/optisync/log/slog"
	zaplog "github.com/unkn0wn-root/optisync/log/zap"
	"github.com/unkn0wn-root/optisync/market"
	"github.com/unkn0wn-root/optisync/provider"
	bigcacheprovider "github.com/unkn0wn-root/optisync/provider/bigcache"
	"github.com/unkn0wn-root/optisync/provider/memory"
	redisprovider "github.com/unkn0wn-root/optisync/provider/redis"
	ristrettoprovider "github.com/unkn0wn-root/optisync/provider/ristretto"
	"github.com/unkn0wn-root/optisync/sloghooks"
)

const (
	backendMemory    = "memory"
	backendRistretto = "ristretto"
	backendBigcache  = "bigcache"
	backendRedis     = "redis"
)

// Config holds the client command configuration.
type Config struct {
	BaseURL      string        `env:"ATTIES_API_BASE_URL"     envDefault:"http://localhost:8090"`
	Backend      string        `env:"ATTIES_CACHE_BACKEND"    envDefault:"memory"`
	RedisAddr    string        `env:"ATTIES_REDIS_ADDR"       envDefault:"localhost:6379"`
	RefreshToken string        `env:"ATTIES_REFRESH_TOKEN"`
	LogLevel     string        `env:"ATTIES_LOG_LEVEL"        envDefault:"warn"`
	LogFormat    string        `env:"ATTIES_LOG_FORMAT"       envDefault:"zap"`
	Timeout      time.Duration `env:"ATTIES_TIMEOUT"          envDefault:"10s"`
	StaleAfter   time.Duration `env:"ATTIES_STALE_AFTER"      envDefault:"1m"`
	FeedPageSize int           `env:"ATTIES_FEED_PAGE_SIZE"   envDefault:"10"`

	// Args is the subcommand and its operands, taken from the flag set.
	Args []string
}

// ParseConfig reads the environment, then lets flags override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.RefreshToken == "" {
		cfg.RefreshToken = config.DevRefreshToken
	}

	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "marketplace API base URL")
	fs.StringVar(&cfg.Backend, "cache", cfg.Backend, "cache backend: memory, ristretto, bigcache or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the redis backend")
	fs.StringVar(&cfg.RefreshToken, "refresh-token", cfg.RefreshToken, "refresh token used to sign in")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "zap, logrus or slog")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP timeout per request")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "age after which cached entries are refetched")
	fs.IntVar(&cfg.FeedPageSize, "page-size", cfg.FeedPageSize, "artworks per feed page")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Args = fs.Args()
	if len(cfg.Args) == 0 {
		return Config{}, errors.New("a command is required: artwork, like, unlike, feed, auctions, me")
	}
	return cfg, nil
}

// Run signs in, executes one command and prints its result as JSON.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	logger, flush, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer flush()

	hooks := asynchook.New(sloghooks.New(stdslog.New(stdslog.NewTextHandler(os.Stderr, nil)), sloghooks.Options{
		SelfHealEvery:  1,
		SupersedeEvery: 1,
	}), 1, 256)
	defer hooks.Close()

	client, err := market.New(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return err
	}

	p, gens, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	s, err := atties.NewSession(atties.Options{
		Client:       client,
		Provider:     p,
		GenStore:     gens,
		Logger:       logger,
		Hooks:        hooks,
		StaleAfter:   cfg.StaleAfter,
		FeedPageSize: cfg.FeedPageSize,
	})
	if err != nil {
		if gens != nil {
			_ = gens.Close(ctx)
		}
		_ = p.Close(ctx)
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close session", optisync.Fields{"err": err})
		}
	}()

	if _, err := s.Login(ctx, cfg.RefreshToken); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	res, err := dispatch(ctx, s, cfg.Args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// mutationResult reports how an optimistic mutation settled.
type mutationResult struct {
	State  string `json:"state"`
	Result any    `json:"result,omitempty"`
	Cached any    `json:"cached,omitempty"`
}

func dispatch(ctx context.Context, s *atties.Session, args []string) (any, error) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "artwork":
		id, err := artworkID(rest)
		if err != nil {
			return nil, err
		}
		return s.Artwork(ctx, id)
	case "like", "unlike":
		id, err := artworkID(rest)
		if err != nil {
			return nil, err
		}
		if _, err := s.Artwork(ctx, id); err != nil {
			return nil, err
		}
		var p *optisync.Pending[market.Prefer]
		if cmd == "like" {
			p = s.LikeArtwork(ctx, id)
		} else {
			p = s.UnlikeArtwork(ctx, id)
		}
		res, err := p.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s artwork %d (%s): %w", cmd, id, p.State(), err)
		}
		cached, _, _ := s.CachedArtwork(ctx, id)
		return mutationResult{State: p.State().String(), Result: res, Cached: cached.Value}, nil
	case "feed":
		pages := 1
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("feed: invalid page count %q", rest[0])
			}
			pages = n
		}
		f, err := s.Feed(ctx)
		if err != nil {
			return nil, err
		}
		for len(f.Pages) < pages {
			before := len(f.Pages)
			if f, err = s.FeedMore(ctx); err != nil {
				return nil, err
			}
			if len(f.Pages) == before {
				break
			}
		}
		return f, nil
	case "auctions":
		return s.Auctions(ctx)
	case "me":
		return s.Profile(ctx)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func artworkID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one artwork id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("artwork id %q: %w", args[0], err)
	}
	return id, nil
}

// newProvider returns the byte store for cfg.Backend and, for redis, a gen
// store on the same client so fences hold across processes.
func newProvider(ctx context.Context, cfg Config) (provider.Provider, genstore.GenStore, error) {
	switch cfg.Backend {
	case "", backendMemory:
		return memory.New(), nil, nil
	case backendRistretto:
		p, err := ristrettoprovider.New(ristrettoprovider.DefaultConfig(10_000))
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case backendBigcache:
		p, err := bigcacheprovider.New(ctx, bigcacheprovider.Config{
			LifeWindow:         10 * time.Minute,
			HardMaxCacheSizeMB: 64,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case backendRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		p, err := redisprovider.New(redisprovider.Config{
			Client:      rdb,
			Prefix:      "atties:",
			CloseClient: true,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return p, genstore.NewRedisGenStore(rdb, "atties"), nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newLogger(format, level string) (optisync.Logger, func(), error) {
	switch format {
	case "", "zap":
		zl, err := logging.NewZap(level)
		if err != nil {
			return nil, nil, err
		}
		return zaplog.New(zl), func() { _ = zl.Sync() }, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.New(l), func() {}, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", level, err)
		}
		h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: stdslog.New(h)}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}
