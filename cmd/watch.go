package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/habedi/sessync/pkg/clierr"
	"github.com/habedi/sessync/session"
	"github.com/habedi/sessync/tabsync"
	"github.com/spf13/cobra"
)

// watchCmd joins the channel and prints what sibling sessions announce.
func watchCmd(cfg *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session events announced by sibling sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			p := &eventPrinter{w: cmd.OutOrStdout()}
			sess, closeSession, err := openSession(ctx, cfg, p.options())
			if err != nil {
				return err
			}
			defer closeSession()

			if sess.Bus().Degraded() {
				return clierr.New(clierr.Validation, "Watching needs a shared channel; pass --redis or set SESSYNC_REDIS_ADDR.", tabsync.ErrUnsupported)
			}
			cmd.Printf("Watching channel %q as %s. Press Ctrl+C to stop.\n", cfg.channel, sess.Bus().ID())
			<-ctx.Done()
			return nil
		},
	}
}

type eventPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	fmt.Fprintf(p.w, "%s  %s\n", now().Format(time.TimeOnly), fmt.Sprintf(format, args...))
}

func (p *eventPrinter) options() session.Options {
	return session.Options{
		OnSignedIn: func(u tabsync.User) {
			p.printf("login       user=%s", firstNonEmpty(u.Username, u.ID, "-"))
		},
		OnSignedOut:      func() { p.printf("logout") },
		OnTokenRefreshed: func() { p.printf("refresh") },
		OnPermissions: func(perms []string) {
			p.printf("permissions %s", strings.Join(perms, ","))
		},
	}
}
