package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	advanceDelay  time.Duration
	authVerifyURL string
	bind          string
	databaseURL   string
	idleWindow    time.Duration
	inviteTTL     time.Duration
	port          int
	redisURL      string
	tlsCert       string
	tlsKey        string
	verbose       bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.advanceDelay < 0 {
		return fmt.Errorf("invalid advance delay: %v", c.advanceDelay)
	}
	if c.idleWindow <= 0 {
		return fmt.Errorf("invalid idle window: %v", c.idleWindow)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TELEPATHY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "telepathy-server",
		Short:         "Two-player synchronous symbol matching game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.advanceDelay, "advance-delay", 2*time.Second, "pause between the verdict and the next round (env: TELEPATHY_ADVANCE_DELAY)")
	fs.StringVar(&cfg.authVerifyURL, "auth-verify-url", "", "token verification endpoint; insecure dev tokens when unset (env: TELEPATHY_AUTH_VERIFY_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TELEPATHY_BIND)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres dsn for the user directory; disabled when unset (env: TELEPATHY_DATABASE_URL)")
	fs.DurationVar(&cfg.idleWindow, "idle-window", 120*time.Second, "time before sessions with a disconnected player are abandoned (env: TELEPATHY_IDLE_WINDOW)")
	fs.DurationVar(&cfg.inviteTTL, "invite-ttl", 24*time.Hour, "lifetime of pending invitations (env: TELEPATHY_INVITE_TTL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TELEPATHY_PORT)")
	fs.StringVar(&cfg.redisURL, "redis-url", "redis://localhost:6379/0", "redis url for the invitation store (env: TELEPATHY_REDIS_URL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TELEPATHY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TELEPATHY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TELEPATHY_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("telepathy-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
