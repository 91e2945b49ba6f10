package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ligustah/espadl/internal/config"
	espahttp "github.com/ligustah/espadl/internal/http"
	"github.com/ligustah/espadl/internal/order"
	"github.com/ligustah/espadl/internal/progress"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleOK    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	styleWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	styleError = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	styleState = lipgloss.NewStyle().Width(9)
)

// app holds what every subcommand shares: streams, global flags, the loaded
// configuration and the logger.
type app struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	logFormat  string
	chunkSize  string

	// flags holds values given on the command line. Zero values are unset
	// unless the flag is listed in explicitFlags.
	flags config.Config

	cfg    config.Config
	logger *slog.Logger
}

func newApp(stdin *os.File, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "espadl",
		Short: "Bulk download client for completed ESPA orders",
		Long: styleTitle.Render("espadl") + " - ESPA bulk download client\n\n" +
			"Retrieves all completed scenes for the user/order and places them\n" +
			"into the target directory, organized by order.\n\n" +
			"It is safe to cancel and restart the client: scenes are downloaded\n" +
			"once per directory and interrupted transfers resume where they\n" +
			"stopped. Please make sure only one instance runs at a time and do\n" +
			"not schedule runs more often than once per hour.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "be vocal about process")
	pf.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVarP(&a.flags.Directory, "directory", "d", "", "where to store the downloaded scenes")

	root.AddCommand(
		a.downloadCommand(),
		a.listCommand(),
		a.verifyCommand(),
		a.mirrorCommand(),
	)
	return root
}

// addServiceFlags registers the flags needed to reach the order service.
func (a *app) addServiceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&a.flags.Email, "email", "e", "", "email address for the user that submitted the order")
	f.StringVarP(&a.flags.Order, "order", "o", "", "which order to download (use ALL for every order)")
	f.StringVarP(&a.flags.Username, "username", "u", "", "EE/ESPA account username")
	f.StringVarP(&a.flags.Password, "password", "p", "", "EE/ESPA account password (prompted when empty)")
	f.StringVarP(&a.flags.Host, "host", "i", "", "order service base URL")
	f.StringVar(&a.flags.Source, "source", "", "enumeration source: api or feed")
	f.BoolVar(&a.flags.HTTP.InsecureSkipVerify, "insecure", false, "skip TLS certificate verification")
	f.Float64Var(&a.flags.HTTP.RateLimit, "rate-limit", 0, "maximum enumeration requests per second (0 disables)")
	f.IntVar(&a.flags.HTTP.Retry.Attempts, "retry-attempts", 0, "retries for metadata and enumeration requests")
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(a.stderr, a.verbose, a.logFormat)
	if err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	a.logger = logger.With("run_id", uuid.NewString())

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	a.cfg = cfg

	a.logger.Debug("configuration loaded",
		"command", cmd.Name(),
		"directory", cfg.Directory,
		"order", cfg.Order,
		"source", cfg.Source,
	)
	return nil
}

// loadConfig layers defaults, the YAML file, the environment and flags.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.configPath); err != nil {
			return config.Config{}, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	if a.chunkSize != "" {
		size, err := progress.ParseBytes(a.chunkSize)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --chunk-size: %w", err)
		}
		a.flags.ChunkSize = size
	}

	cfg = cfg.Merge(a.flags)
	a.explicitFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// explicitFlags applies flags whose zero value is meaningful whenever they
// were given on the command line.
func (a *app) explicitFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("pacing-min") {
		cfg.Pacing.Min = a.flags.Pacing.Min
	}
	if changed("pacing-max") {
		cfg.Pacing.Max = a.flags.Pacing.Max
	}
	if changed("rate-limit") {
		cfg.HTTP.RateLimit = a.flags.HTTP.RateLimit
	}
	if changed("retry-attempts") {
		cfg.HTTP.Retry.Attempts = a.flags.HTTP.Retry.Attempts
	}
}

func newLogger(w io.Writer, verbose bool, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// authenticate checks the credentials and prompts for a missing password.
func (a *app) authenticate(cfg *config.Config) error {
	if err := cfg.RequireCredentials(); err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	if err := cfg.PromptPassword(a.stdin, a.stderr); err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	return nil
}

func (a *app) httpClient(cfg config.Config) (*espahttp.Client, error) {
	opts := espahttp.DefaultOptions()
	opts.Timeout = cfg.HTTP.Timeout
	opts.IdleTimeout = cfg.HTTP.IdleTimeout
	opts.InsecureSkipVerify = cfg.HTTP.InsecureSkipVerify
	opts.UserAgent = cfg.HTTP.UserAgent
	opts.Username = cfg.Username
	opts.Password = cfg.Password
	opts.RateLimit = cfg.HTTP.RateLimit
	opts.RetryAttempts = cfg.HTTP.Retry.Attempts
	opts.RetryBackoff = cfg.HTTP.Retry.Backoff
	opts.RetryMaxBackoff = cfg.HTTP.Retry.MaxBackoff
	opts.Logger = a.logger

	client, err := espahttp.NewClient(opts)
	if err != nil {
		return nil, exitWith(ExitInvalidArgs, err)
	}
	return client, nil
}

func (a *app) enumerator(cfg config.Config, client order.Getter) order.Enumerator {
	if cfg.Source == config.SourceFeed {
		return order.NewFeed(cfg.Host, cfg.Email, client, a.logger)
	}

	host := ""
	if cfg.Host != "" {
		host = strings.TrimRight(cfg.Host, "/") + "/api/v1"
	}
	return order.NewAPI(host, cfg.Email, client, a.logger)
}

// matchOrder reports whether orderID is selected by filter.
func matchOrder(filter, orderID string) bool {
	return filter == "" || strings.EqualFold(filter, order.All) || filter == orderID
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// enumerationExit maps an enumeration failure to an exit code, or returns
// nil when the run may continue.
func enumerationExit(err error) error {
	if errors.Is(err, order.ErrAuthentication) {
		return exitWith(ExitAuthFailed, err)
	}
	return nil
}
