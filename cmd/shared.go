package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/habedi/sessync/auth"
	"github.com/habedi/sessync/client"
	"github.com/habedi/sessync/db"
	"github.com/habedi/sessync/pkg/clierr"
	"github.com/habedi/sessync/pkg/validation"
	"github.com/habedi/sessync/session"
	"github.com/habedi/sessync/tabsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	envRefreshURL  = "SESSYNC_REFRESH_URL"
	envRedisAddr   = "SESSYNC_REDIS_ADDR"
	envChannel     = "SESSYNC_CHANNEL"
	defaultChannel = tabsync.DefaultChannelName
)

var errNoRefreshURL = errors.New("no refresh endpoint configured")

// settings are the persistent flags shared by every subcommand.
type settings struct {
	refreshURL string
	redisAddr  string
	channel    string
	verbose    bool
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// requireRefreshURL is for commands that send requests: refreshing against a
// missing endpoint would sign the user out.
func (s *settings) requireRefreshURL() error {
	if err := validation.ValidateEndpoint("refresh URL", s.refreshURL); err != nil {
		return clierr.New(clierr.Validation, fmt.Sprintf("A valid refresh URL is required (--refresh-url or %s): %v", envRefreshURL, err), err)
	}
	return nil
}

// openSession opens a session over the local database. The returned closer
// leaves the channel and disconnects from Redis.
func openSession(ctx context.Context, s *settings, opts session.Options) (*session.Session, func(), error) {
	if err := validation.ValidateChannelName(s.channel); err != nil {
		return nil, nil, clierr.New(clierr.Validation, err.Error(), err)
	}
	conn := db.GetDB()
	opts.Store = auth.NewRepoStore(db.NewTokenRepository(conn))
	opts.Profiles = db.NewProfileRepository(conn)
	opts.ChannelName = s.channel
	opts.Debug = s.verbose

	opts.Client.RefreshEndpoint = s.refreshURL
	if s.refreshURL == "" {
		opts.Client.Refresher = auth.RefresherFunc(func(context.Context, string) (auth.TokenPair, error) {
			return auth.TokenPair{}, errNoRefreshURL
		})
	}
	if opts.Client.Registerer == nil {
		opts.Client.Registerer = prometheus.NewRegistry()
	}

	var rdb *redis.Client
	if s.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: s.redisAddr})
		opts.Channel = tabsync.RedisFactory(rdb)
	}
	closeRedis := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	sess, err := session.Open(ctx, opts)
	if err != nil {
		closeRedis()
		if rdb != nil {
			return nil, nil, clierr.New(clierr.Network, fmt.Sprintf("Cannot join channel %q on Redis at %s", s.channel, s.redisAddr), err)
		}
		return nil, nil, classify(err)
	}
	return sess, func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session")
		}
		closeRedis()
	}, nil
}

// classify maps an error to the CLI taxonomy.
func classify(err error) error {
	var cliErr *clierr.Error
	var urlErr *url.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cliErr):
		return err
	case errors.Is(err, client.ErrUnauthenticated):
		return clierr.New(clierr.Unauthenticated, "Not signed in. Run `sessync login` first.", err)
	case errors.Is(err, client.ErrRefreshFailed):
		return clierr.New(clierr.Unauthenticated, "The session expired and could not be renewed. Run `sessync login` again.", err)
	case errors.As(err, &urlErr):
		return clierr.New(clierr.Network, fmt.Sprintf("Request failed: %v", urlErr.Err), err)
	default:
		return clierr.New(clierr.Internal, err.Error(), err)
	}
}

// promptForInput prints prompt to out and reads one trimmed line from in.
func promptForInput(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	input, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// promptForSecret reads without echo when stdin is a terminal.
func promptForSecret(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptForInput(in, out, prompt)
	}
	fmt.Fprint(out, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
