package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"caldavtasks/backend/caldav"
	"caldavtasks/internal/cache"
	"caldavtasks/internal/config"
	"caldavtasks/internal/credentials"
	"caldavtasks/internal/notification"
	"caldavtasks/internal/ratelimit"
	"caldavtasks/internal/shutdown"
	"caldavtasks/internal/tracing"
	"caldavtasks/internal/utils"
	"caldavtasks/internal/views"
)

// Version is set at build time
var Version = "dev"

// cleanupTimeout bounds the cleanups run after a command returns
const cleanupTimeout = 5 * time.Second

// Config holds the injectable parts of the CLI environment
type Config struct {
	ConfigPath string // Path to config file (default: XDG config path)

	Keyring    credentials.Keyring        // nil uses the system keyring
	HTTPClient *http.Client               // base client for CalDAV requests (for testing)
	Stdin      io.Reader                  // password input when TTY is nil
	TTY        credentials.TerminalReader // hidden password input
	// NotificationOptions are passed to the notification manager (for testing)
	NotificationOptions []notification.Option
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{
			Stdin: os.Stdin,
			TTY:   credentials.NewTerminalReader(os.Stdin),
		}
	}

	prevLog := utils.SetLogOutput(stderr)
	defer utils.SetLogOutput(prevLog)

	mgr := shutdown.NewManager(context.Background())
	stop := mgr.Listen()
	defer stop()

	rootCmd := NewCaldavTasks(stdout, stderr, cfg, mgr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(mgr.Context())

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_ = mgr.Wait(ctx)

	if err != nil {
		if mgr.IsShutdown() {
			err = fmt.Errorf("interrupted by %v", mgr.Signal())
		}
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	jsonBytes, _ := json.Marshal(errorResponse{Error: err.Error(), Code: 1})
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// cli carries what every subcommand needs
type cli struct {
	stdout   io.Writer
	stderr   io.Writer
	cfg      *Config
	shutdown *shutdown.Manager
}

// NewCaldavTasks creates the root command with injectable IO
func NewCaldavTasks(stdout, stderr io.Writer, cfg *Config, mgr *shutdown.Manager) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	if mgr == nil {
		mgr = shutdown.NewManager(context.Background())
	}
	c := &cli{stdout: stdout, stderr: stderr, cfg: cfg, shutdown: mgr}

	cmd := &cobra.Command{
		Use:     "caldavtasks",
		Short:   "Read tasks from a CalDAV calendar",
		Long:    "caldavtasks lists, searches and fetches VTODO tasks from a calendar on a CalDAV server.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to config file")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(c.newListCmd())
	cmd.AddCommand(c.newSearchCmd())
	cmd.AddCommand(c.newGetCmd())
	cmd.AddCommand(c.newGetManyCmd())
	cmd.AddCommand(c.newCredentialsCmd())
	cmd.AddCommand(c.newNotificationCmd())

	return cmd
}

// loadConfig reads the config file and applies the global flags
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	appCfg, err := config.Load(c.cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")
	appCfg.ApplyFlags(jsonOutput, verbose)

	if err := appCfg.Validate(); err != nil {
		return nil, err
	}
	utils.SetVerboseMode(appCfg.Verbose)
	return appCfg, nil
}

func (c *cli) credentialManager(appCfg *config.Config) *credentials.Manager {
	var opts []credentials.ManagerOption
	if c.cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(c.cfg.Keyring))
	}
	if !appCfg.UseKeyring {
		opts = append(opts, credentials.WithoutKeyring())
	}
	return credentials.NewManager(opts...)
}

// notifier builds the notification manager and closes it on shutdown
func (c *cli) notifier(appCfg *config.Config) (notification.NotificationManager, error) {
	nm, err := notification.NewManager(appCfg.NotificationSettings(), c.cfg.NotificationOptions...)
	if err != nil {
		return nil, err
	}
	c.shutdown.RegisterCleanup("notifications", func(ctx context.Context) error {
		return nm.Close()
	})
	return nm, nil
}

// startTracing installs the configured span exporter until shutdown
func (c *cli) startTracing(ctx context.Context, appCfg *config.Config) error {
	provider, err := tracing.Setup(ctx, appCfg.TracingSettings(), c.stderr)
	if err != nil {
		return err
	}
	c.shutdown.RegisterCleanup("tracing", provider.Shutdown)
	return nil
}

// session is a configured Task Service plus what is needed to call it
type session struct {
	appCfg  *config.Config
	server  caldav.Config
	service *caldav.Service
	stats   *ratelimit.Stats
}

// newSession resolves the password and builds the Task Service
func (c *cli) newSession(cmd *cobra.Command) (*session, error) {
	appCfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := requireServer(appCfg); err != nil {
		return nil, err
	}

	creds, err := c.credentialManager(appCfg).Resolve(cmd.Context(), appCfg.Username, appCfg.Password)
	if err != nil {
		return nil, err
	}
	if !creds.Found {
		return nil, utils.ErrCredentialsNotFound(appCfg.Username)
	}
	utils.GetLogger().Debug("using password from %s", creds.Source)

	nm, err := c.notifier(appCfg)
	if err != nil {
		return nil, err
	}
	if err := c.startTracing(cmd.Context(), appCfg); err != nil {
		return nil, err
	}

	stats := ratelimit.NewStats()
	httpClient := ratelimit.NewClient(ratelimit.Config{
		MaxRetries:   appCfg.GetMaxRetries(),
		EnableJitter: true,
		Timeout:      appCfg.GetHTTPTimeout(),
		HTTPClient:   c.cfg.HTTPClient,
		Stats:        stats,
		Server:       "CalDAV",
	})

	service := caldav.NewService(
		caldav.WithHTTPClient(httpClient),
		caldav.WithNotifier(nm),
		caldav.WithProductName(appCfg.ProductName),
	)

	return &session{
		appCfg:  appCfg,
		server:  appCfg.ServerConfig(creds.Password),
		service: service,
		stats:   stats,
	}, nil
}

func (s *session) renderer(w io.Writer) *views.Renderer {
	return views.NewRenderer(w, s.appCfg.OutputFormat)
}

func (s *session) logStats() {
	if n := s.stats.RateLimitCount(); n > 0 {
		utils.GetLogger().Debug("server rate limited %d request(s), last at %s", n, s.stats.LastRateLimitTime().Format(time.RFC3339))
	}
}

// requireServer checks the settings every server command needs
func requireServer(appCfg *config.Config) error {
	if appCfg.ServerURL == "" {
		return utils.ErrNotConfigured("server_url")
	}
	if appCfg.Username == "" {
		return utils.ErrNotConfigured("username")
	}
	if appCfg.CalendarName == "" {
		return utils.ErrNotConfigured("calendar_name")
	}
	return nil
}

// userError attaches a suggestion to a Task Service failure
func userError(err error, appCfg *config.Config, id string) error {
	switch {
	case errors.Is(err, caldav.ErrIssueNotFound):
		return utils.ErrTaskNotFound(err, id)
	case errors.Is(err, caldav.ErrCalendarNotFound):
		return utils.ErrCalendarNotFound(err, appCfg.CalendarName)
	case errors.Is(err, caldav.ErrNetwork) && utils.IsAuthFailure(err):
		return utils.ErrAuthenticationFailed(err)
	case errors.Is(err, caldav.ErrNetwork):
		return utils.ErrServerUnreachable(err)
	default:
		return err
	}
}

func snapshotKey(appCfg *config.Config) cache.Key {
	return cache.Key{ServerURL: appCfg.ServerURL, Username: appCfg.Username, Calendar: appCfg.CalendarName}
}

// openSnapshot opens the snapshot store and closes it on shutdown
func (c *cli) openSnapshot(appCfg *config.Config) (*cache.Store, error) {
	store, err := cache.Open(appCfg.Snapshot.Path)
	if err != nil {
		return nil, err
	}
	c.shutdown.RegisterCleanup("snapshot", func(ctx context.Context) error {
		return store.Close()
	})
	return store, nil
}

// =============================================================================
// Task commands
// =============================================================================

// newListCmd creates the 'list' subcommand
func (c *cli) newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks",
		Long:  "List the tasks of the configured calendar that are not completed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			offline, _ := cmd.Flags().GetBool("offline")
			if offline {
				return c.doListOffline(cmd)
			}
			return c.doList(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("offline", false, "Show the tasks saved by the last successful list")
	return cmd
}

func (c *cli) doList(cmd *cobra.Command) error {
	s, err := c.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.logStats()

	tasks, err := s.service.GetOpenTasks(cmd.Context(), s.server)
	if err != nil {
		return userError(err, s.appCfg, "")
	}

	if s.appCfg.Snapshot.Enabled {
		if store, err := c.openSnapshot(s.appCfg); err != nil {
			utils.GetLogger().Warn("snapshot unavailable: %v", err)
		} else if err := store.SaveTasks(cmd.Context(), snapshotKey(s.appCfg), tasks); err != nil {
			utils.GetLogger().Warn("failed to save snapshot: %v", err)
		}
	}

	return s.renderer(c.stdout).RenderTasks(tasks)
}

func (c *cli) doListOffline(cmd *cobra.Command) error {
	appCfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	if !appCfg.Snapshot.Enabled {
		return utils.WrapWithSuggestion(errors.New("offline snapshot is disabled"), "Set snapshot.enabled to true in your config file")
	}

	store, err := c.openSnapshot(appCfg)
	if err != nil {
		return err
	}

	tasks, savedAt, err := store.LoadTasks(cmd.Context(), snapshotKey(appCfg))
	if errors.Is(err, cache.ErrNoSnapshot) {
		return utils.WrapWithSuggestion(err, "Run 'caldavtasks list' while online first")
	}
	if err != nil {
		return err
	}

	r := views.NewRenderer(c.stdout, appCfg.OutputFormat)
	if err := r.RenderHeader(fmt.Sprintf("Offline snapshot from %s", savedAt.Format("2006-01-02 15:04"))); err != nil {
		return err
	}
	return r.RenderTasks(tasks)
}

// newSearchCmd creates the 'search' subcommand
func (c *cli) newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Search open tasks by summary",
		Long:  "Search the open tasks whose summary contains text. Matching is case-sensitive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.logStats()

			results, err := s.service.SearchOpenTasks(cmd.Context(), args[0], s.server)
			if err != nil {
				return userError(err, s.appCfg, "")
			}
			return s.renderer(c.stdout).RenderSearchResults(results)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newGetCmd creates the 'get' subcommand
func (c *cli) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task by id",
		Long:  "Show the task whose UID is id, completed or not.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.logStats()

			task, err := s.service.GetByID(cmd.Context(), args[0], s.server)
			if err != nil {
				return userError(err, s.appCfg, args[0])
			}
			return s.renderer(c.stdout).RenderTask(*task)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newGetManyCmd creates the 'get-many' subcommand
func (c *cli) newGetManyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-many <id>...",
		Short: "Show several tasks by id",
		Long:  "Show every task, completed or not, whose UID is one of the given ids. Unknown ids are skipped.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.logStats()

			tasks, err := s.service.GetByIDs(cmd.Context(), args, s.server)
			if err != nil {
				return userError(err, s.appCfg, "")
			}
			return s.renderer(c.stdout).RenderTasks(tasks)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// =============================================================================
// Credentials commands
// =============================================================================

// newCredentialsCmd creates the 'credentials' subcommand for credential management
func (c *cli) newCredentialsCmd() *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the CalDAV password",
		Long:  "Store, inspect and remove the password for the configured username.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Store the password in the system keyring",
		Long:  "Prompt for the password and store it in the system keyring (macOS Keychain, Windows Credential Manager, or Linux Secret Service).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCredentials(cmd, func(h *credentials.CLIHandler, appCfg *config.Config) error {
				return h.Set(cmd.Context(), appCfg.Username)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show where the password comes from",
		Long:  "Resolve the password (keyring > environment > config file) and display its source.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCredentials(cmd, func(h *credentials.CLIHandler, appCfg *config.Config) error {
				return h.Get(cmd.Context(), appCfg.Username, appCfg.Password, appCfg.OutputFormat == views.FormatJSON)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the password from the system keyring",
		Long:  "Remove the stored password from the system keyring. Environment variables and the config file are not affected.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCredentials(cmd, func(h *credentials.CLIHandler, appCfg *config.Config) error {
				return h.Delete(cmd.Context(), appCfg.Username)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return credentialsCmd
}

func (c *cli) withCredentials(cmd *cobra.Command, fn func(*credentials.CLIHandler, *config.Config) error) error {
	appCfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	if appCfg.Username == "" {
		return utils.ErrNotConfigured("username")
	}
	// the keyring is always reachable from these commands, use_keyring only
	// affects lookups made for server requests
	var opts []credentials.ManagerOption
	if c.cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(c.cfg.Keyring))
	}
	handler := credentials.NewCLIHandler(credentials.NewManager(opts...), c.cfg.Stdin, c.stdout, c.cfg.TTY)
	return fn(handler, appCfg)
}

// =============================================================================
// Notification commands
// =============================================================================

// newNotificationCmd creates the 'notification' subcommand
func (c *cli) newNotificationCmd() *cobra.Command {
	notificationCmd := &cobra.Command{
		Use:   "notification",
		Short: "Test notifications and inspect the notification log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	notificationCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification through every enabled channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			nm, err := c.notifier(appCfg)
			if err != nil {
				return err
			}
			if nm.ChannelCount() == 0 {
				_, _ = fmt.Fprintln(c.stdout, "No notification channels enabled")
				return nil
			}

			n := notification.New(notification.NotifyTest, notification.SeverityInfo, "caldavtasks", "Test notification")
			if err := nm.Send(n); err != nil {
				return fmt.Errorf("failed to send test notification: %w", err)
			}
			_, _ = fmt.Fprintf(c.stdout, "Test notification sent to %s\n", strings.Join(nm.Channels(), ", "))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			entries, err := notification.ReadLog(appCfg.Notification.LogNotification.Path)
			if err != nil {
				return fmt.Errorf("failed to read notification log: %w", err)
			}
			if appCfg.OutputFormat == views.FormatJSON {
				if entries == nil {
					entries = []notification.Notification{}
				}
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(c.stdout, string(data))
				return nil
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(c.stdout, "No notifications logged")
				return nil
			}
			for _, n := range entries {
				_, _ = fmt.Fprintln(c.stdout, n.String())
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			err = notification.ClearLog(appCfg.Notification.LogNotification.Path)
			if errors.Is(err, os.ErrNotExist) {
				_, _ = fmt.Fprintln(c.stdout, "Notification log is empty")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to clear notification log: %w", err)
			}
			_, _ = fmt.Fprintln(c.stdout, "Notification log cleared")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	notificationCmd.AddCommand(logCmd)
	return notificationCmd
}
