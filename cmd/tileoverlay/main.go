package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/bridge"
	"github.com/bodgit/tileoverlay/server"
	"github.com/bodgit/tileoverlay/store"
	"github.com/bodgit/tileoverlay/tile"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultDB       = "tileoverlay.db"
	defaultListen   = "127.0.0.1:8080"
	defaultUpstream = "https://backend.wplace.live/files/s0"
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

type closingStore interface {
	tileoverlay.Store
	Close() error
}

// config overlays viper settings, from a config file or TILEOVERLAY_*
// environment variables, beneath any flags given explicitly
type config struct {
	c *cli.Context
	v *viper.Viper
}

func newConfig(c *cli.Context) (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("tileoverlay")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := c.String("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &config{c: c, v: v}, nil
}

func (cfg *config) String(name string) string {
	if !cfg.c.IsSet(name) && cfg.v.IsSet(name) {
		return cfg.v.GetString(name)
	}
	return cfg.c.String(name)
}

func (cfg *config) Int(name string) int {
	if !cfg.c.IsSet(name) && cfg.v.IsSet(name) {
		return cfg.v.GetInt(name)
	}
	return cfg.c.Int(name)
}

func (cfg *config) Bool(name string) bool {
	if !cfg.c.IsSet(name) && cfg.v.IsSet(name) {
		return cfg.v.GetBool(name)
	}
	return cfg.c.Bool(name)
}

func (cfg *config) Duration(name string) time.Duration {
	if !cfg.c.IsSet(name) && cfg.v.IsSet(name) {
		return cfg.v.GetDuration(name)
	}
	return cfg.c.Duration(name)
}

func (cfg *config) logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.InfoLevel)

	var w []io.Writer
	if cfg.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
		w = append(w, os.Stderr)
	}
	if file := cfg.String("log-file"); file != "" {
		w = append(w, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	if len(w) > 0 {
		logger.SetOutput(io.MultiWriter(w...))
	}

	return logger
}

func (cfg *config) store() (closingStore, error) {
	if dsn := cfg.String("mysql-dsn"); dsn != "" {
		return store.NewMySQL(dsn)
	}
	return store.NewSQLite(cfg.String("db"))
}

func (cfg *config) compositor(ctx context.Context, s tileoverlay.Store, logger logrus.FieldLogger) (*tileoverlay.Compositor, error) {
	m, err := tileoverlay.New(s, tileoverlay.LogUI{Logger: logger}, logger,
		tileoverlay.WithTileSize(cfg.Int("tile-size")),
		tileoverlay.WithGridFactor(cfg.Int("grid-factor")),
		tileoverlay.WithWorkers(cfg.Int("workers")),
	)
	if err != nil {
		return nil, err
	}

	if user := cfg.String("user"); user != "" {
		m.SetUserID(user)
	}

	if err := m.LoadTemplates(ctx); err != nil {
		var perr *tileoverlay.PersistenceError
		if errors.As(err, &perr) {
			m.Close()
			return nil, err
		}
		logger.WithError(err).Warn("Some templates were not loaded")
	}

	return m, nil
}

// withCompositor opens the store and compositor and passes them to fn
func withCompositor(c *cli.Context, fn func(*config, *tileoverlay.Compositor, *logrus.Logger) error) error {
	cfg, err := newConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logger := cfg.logger()

	s, err := cfg.store()
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer s.Close()

	m, err := cfg.compositor(c.Context, s, logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer m.Close()

	if err := fn(cfg, m, logger); err != nil {
		return cli.Exit(err, 1)
	}

	return nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	ints := make([]int, 0, len(fields))
	for _, f := range fields {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		ints = append(ints, i)
	}
	return ints, nil
}

func parseAnchor(s string) (*tile.Anchor, error) {
	ints, err := parseInts(s)
	if err != nil {
		return nil, fmt.Errorf("coordinates %q: %w", s, err)
	}
	a, err := tile.AnchorFromSlice(ints)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func parseKey(s string) (tile.Key, error) {
	ints, err := parseInts(s)
	if err != nil || len(ints) != 2 {
		return tile.Key{}, fmt.Errorf("tile %q: expected x,y", s)
	}
	return tile.Key{X: ints[0], Y: ints[1]}, nil
}

func serve(ctx context.Context, srv *http.Server, logger logrus.FieldLogger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.WithField("listen", srv.Addr).Info("Listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdown)
}

func main() {
	app := cli.NewApp()

	app.Name = "tileoverlay"
	app.Usage = "Template overlay for tile based canvases"
	app.Version = "1.0.0"

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"TILEOVERLAY_DB"},
			Value:   filepath.Join(cwd, defaultDB),
			Usage:   "path to database",
		},
		&cli.StringFlag{
			Name:    "mysql-dsn",
			EnvVars: []string{"TILEOVERLAY_MYSQL_DSN"},
			Usage:   "store templates in MySQL instead of the database file",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"TILEOVERLAY_CONFIG"},
			Usage:   "path to configuration file",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "user id to scope stored templates to",
		},
		&cli.IntFlag{
			Name:  "tile-size",
			Value: tile.DefaultSize,
			Usage: "tile edge length in pixels",
		},
		&cli.IntFlag{
			Name:  "grid-factor",
			Value: tileoverlay.DefaultGridFactor,
			Usage: "template pixel magnification, must be odd",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "number of chunk encoding workers",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "also write logs to a rotated file",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "create",
			Usage:     "Create a template from an image",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "coords",
					Usage:    "anchor as tileX,tileY,pixelX,pixelY",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "name",
					Usage: "display name, defaults to the file name",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, _ *logrus.Logger) error {
					anchor, err := parseAnchor(c.String("coords"))
					if err != nil {
						return err
					}

					b, err := os.ReadFile(c.Args().First())
					if err != nil {
						return err
					}

					name := c.String("name")
					if name == "" {
						name = filepath.Base(c.Args().First())
					}

					id, err := m.CreateTemplate(c.Context, name, b, anchor)
					if err != nil {
						return err
					}

					fmt.Println(id)

					return nil
				})
			},
		},
		{
			Name:  "list",
			Usage: "List templates",
			Action: func(c *cli.Context) error {
				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, _ *logrus.Logger) error {
					w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tANCHOR\tPIXELS\tTILES")
					for _, s := range m.Templates() {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.DisplayName, s.Anchor, s.PixelCount, strings.Join(s.Tiles, " "))
					}
					return w.Flush()
				})
			},
		},
		{
			Name:  "scopes",
			Usage: "List the scopes with stored templates",
			Action: func(c *cli.Context) error {
				cfg, err := newConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}

				s, err := store.NewSQLite(cfg.String("db"))
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer s.Close()

				scopes, err := s.Scopes(c.Context)
				if err != nil {
					return cli.Exit(err, 1)
				}
				for _, scope := range scopes {
					fmt.Println(scope)
				}

				return nil
			},
		},
		{
			Name:      "remove",
			Usage:     "Remove a template",
			ArgsUsage: "ID",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, _ *logrus.Logger) error {
					ok, err := m.RemoveTemplate(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no template with id %s", c.Args().First())
					}
					return nil
				})
			},
		},
		{
			Name:      "export",
			Usage:     "Export templates",
			ArgsUsage: "[FILE]",
			Action: func(c *cli.Context) error {
				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, _ *logrus.Logger) error {
					b, err := m.TemplatesForSaving()
					if err != nil {
						return err
					}
					if c.NArg() < 1 {
						_, err = os.Stdout.Write(b)
						return err
					}
					return os.WriteFile(c.Args().First(), b, 0o644)
				})
			},
		},
		{
			Name:      "import",
			Usage:     "Import previously exported templates",
			ArgsUsage: "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, logger *logrus.Logger) error {
					b, err := os.ReadFile(c.Args().First())
					if err != nil {
						return err
					}

					if err := m.LoadTemplatesFromData(c.Context, b); err != nil {
						if _, ok := err.(*tileoverlay.DecodeError); ok {
							return err
						}
						logger.WithError(err).Warn("Some templates were not imported")
					}

					return m.SaveTemplates(c.Context)
				})
			},
		},
		{
			Name:      "render",
			Usage:     "Merge templates into a tile image",
			ArgsUsage: "TILE OUTPUT",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "tile",
					Usage:    "tile coordinates as x,y",
					Required: true,
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				return withCompositor(c, func(_ *config, m *tileoverlay.Compositor, _ *logrus.Logger) error {
					key, err := parseKey(c.String("tile"))
					if err != nil {
						return err
					}

					b, err := os.ReadFile(c.Args().Get(0))
					if err != nil {
						return err
					}

					return os.WriteFile(c.Args().Get(1), m.DrawTemplateOnTile(b, key), 0o644)
				})
			},
		},
		{
			Name:  "serve",
			Usage: "Serve the template API, bridge endpoint and compositing proxy",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Value: defaultListen,
					Usage: "address to listen on",
				},
				&cli.StringFlag{
					Name:  "upstream",
					Value: defaultUpstream,
					Usage: "host to proxy tile requests to, empty to disable",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Value: bridge.DefaultTimeout,
					Usage: "how long to wait for a composited tile",
				},
			},
			Action: func(c *cli.Context) error {
				return withCompositor(c, func(cfg *config, m *tileoverlay.Compositor, logger *logrus.Logger) error {
					h := bridge.NewHandler(m, tileoverlay.LogUI{Logger: logger}, logger)
					o := bridge.NewObserver(nil, bridge.NewCorrelator(0, cfg.Duration("timeout")), logger)
					o.Sender = bridge.NewPipe(h, o.Deliver)

					var upstream *url.URL
					if s := cfg.String("upstream"); s != "" {
						u, err := url.Parse(s)
						if err != nil {
							return err
						}
						upstream = u
					}

					srv := &http.Server{
						Addr:              cfg.String("listen"),
						Handler:           server.New(m, h, o, upstream, logger).Handler(),
						ReadHeaderTimeout: 10 * time.Second,
					}

					if err := serve(c.Context, srv, logger); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
			},
		},
		{
			Name:  "proxy",
			Usage: "Proxy tile requests, compositing them through a remote bridge",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Value: defaultListen,
					Usage: "address to listen on",
				},
				&cli.StringFlag{
					Name:  "upstream",
					Value: defaultUpstream,
					Usage: "host to proxy requests to",
				},
				&cli.StringFlag{
					Name:     "bridge",
					Usage:    "websocket URL of a running serve command, such as ws://host:8080/bridge",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Value: bridge.DefaultTimeout,
					Usage: "how long to wait for a composited tile",
				},
			},
			Action: func(c *cli.Context) error {
				cfg, err := newConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				logger := cfg.logger()

				upstream, err := url.Parse(cfg.String("upstream"))
				if err != nil {
					return cli.Exit(err, 1)
				}

				o := bridge.NewObserver(nil, bridge.NewCorrelator(0, cfg.Duration("timeout")), logger)
				client, err := bridge.Dial(c.Context, cfg.String("bridge"), o.Deliver)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer client.Close()
				o.Sender = client

				srv := &http.Server{
					Addr:              cfg.String("listen"),
					Handler:           server.NewProxy(upstream, o, logger),
					ReadHeaderTimeout: 10 * time.Second,
				}

				ctx, cancel := context.WithCancel(c.Context)
				defer cancel()
				go func() {
					select {
					case <-client.Done():
						logger.Error("Bridge connection lost")
						cancel()
					case <-ctx.Done():
					}
				}()

				if err := serve(ctx, srv, logger); !errors.Is(err, http.ErrServerClosed) {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
