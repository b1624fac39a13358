package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neural-lab/internal/app"
	"neural-lab/internal/tui"

	"github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	flagConfig  string
	flagDataDir string
	flagMock    bool
	purgeYes    bool

	askImage    string
	askSession  string
	askProtocol string

	userName string
	userKey  string
	userRole string
)

func buildApplication() (*app.Application, error) {
	configPath := flagConfig
	if configPath == "" {
		configPath = app.DefaultConfigPath()
	}
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	mockMode := flagMock || cfg.APIKey == ""
	return app.NewApplication(cfg, mockMode)
}

func main() {
	root := &cobra.Command{
		Use:     "nlab",
		Short:   "Neural Lab - terminal client for the Polyglot Core",
		Long:    "Neural Lab is a terminal chat client backed by a versioned local record store.\n\nUse without arguments for the interactive TUI. Without an API key it runs against a simulated uplink.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApplication()
			if err != nil {
				return err
			}

			user, err := application.Initialize(context.Background())
			if err != nil {
				application.Logger.Warn("initialize", map[string]any{"error": err.Error()})
			}

			p := tea.NewProgram(tui.New(application, user), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory")
	root.PersistentFlags().BoolVar(&flagMock, "mock", false, "force the simulated uplink even with an API key")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			application, err := buildApplication()
			if err != nil {
				return err
			}
			sessions, err := application.Sessions.LoadAll(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No stored sessions.")
				return nil
			}
			for _, s := range sessions {
				modified := time.UnixMilli(s.LastModified).Format("2006-01-02 15:04")
				fmt.Printf("%s  %-30s  %3d msgs  %s\n", modified, s.Title, len(s.Messages), s.ID)
			}
			return nil
		},
	}
	root.AddCommand(sessionsCmd)

	askCmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			application, err := buildApplication()
			if err != nil {
				return err
			}
			user, err := application.Initialize(ctx)
			if err != nil {
				return err
			}

			opts := app.SendOptions{
				SessionID:  askSession,
				ProtocolID: askProtocol,
				Role:       app.RoleGuest,
			}
			if user != nil {
				opts.Role = user.Role
			}
			if askImage != "" {
				img, err := app.LoadImagePayload(askImage)
				if err != nil {
					return err
				}
				opts.Image = img
			}

			sid, err := application.Assembler.Send(ctx, args[0], opts)
			if err != nil {
				return err
			}
			sess, ok := application.Sessions.Get(sid)
			if !ok || len(sess.Messages) == 0 {
				return fmt.Errorf("no reply recorded")
			}
			fmt.Println(sess.Messages[len(sess.Messages)-1].Text)
			return nil
		},
	}
	askCmd.Flags().StringVar(&askImage, "image", "", "attach an image file (png, jpeg, gif, webp)")
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing session id")
	askCmd.Flags().StringVar(&askProtocol, "protocol", "", "protocol id overriding the system instruction")
	root.AddCommand(askCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Destroy the local record store and sign out (privileged)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !purgeYes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			ctx, cancel := signalContext()
			defer cancel()

			application, err := buildApplication()
			if err != nil {
				return err
			}
			if _, err := application.Auth.RequirePrivileged(); err != nil {
				return err
			}
			if err := application.Store.PurgeAll(ctx); err != nil {
				return err
			}
			fmt.Println("Record store purged.")
			return nil
		},
	}
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm destruction of all local data")
	root.AddCommand(purgeCmd)

	root.AddCommand(newUsersCmd())
	root.AddCommand(newProtocolsCmd())

	configCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				path = app.DefaultConfigPath()
			}
			if path == "" {
				return fmt.Errorf("cannot resolve a config path on this system")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := app.SaveConfig(app.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// privilegedApplication builds the application and rejects the command unless
// the signed-in user passes the privileged gate. Sign in through the TUI first.
func privilegedApplication() (*app.Application, error) {
	application, err := buildApplication()
	if err != nil {
		return nil, err
	}
	if _, err := application.Auth.RequirePrivileged(); err != nil {
		return nil, err
	}
	return application, nil
}

func newUsersCmd() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user registry (privileged)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List provisioned users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			application, err := privilegedApplication()
			if err != nil {
				return err
			}
			users, err := application.Auth.ListUsers(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No provisioned users.")
				return nil
			}
			for _, u := range users {
				fmt.Printf("%-14s %-20s %s\n", u.Role, u.Name, u.ID)
			}
			return nil
		},
	}
	usersCmd.AddCommand(listCmd)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Provision a user with a name, access key, and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			role, ok := app.ParseRole(userRole)
			if !ok {
				return fmt.Errorf("unknown role %q", userRole)
			}
			application, err := privilegedApplication()
			if err != nil {
				return err
			}
			u, err := application.Auth.ProvisionUser(ctx, userName, userKey, role)
			if err != nil {
				return err
			}
			fmt.Printf("Provisioned %s (%s) as %s\n", u.Name, u.ID, u.Role)
			return nil
		},
	}
	addCmd.Flags().StringVar(&userName, "name", "", "display name (required)")
	addCmd.Flags().StringVar(&userKey, "key", "", "access key (required)")
	addCmd.Flags().StringVar(&userRole, "role", "viewer", "role: root|admin|data_manager|editor|contributor|viewer")
	usersCmd.AddCommand(addCmd)

	rmCmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a user from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			application, err := privilegedApplication()
			if err != nil {
				return err
			}
			if err := application.Auth.DeleteUser(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("User removed.")
			return nil
		},
	}
	usersCmd.AddCommand(rmCmd)

	return usersCmd
}

func newProtocolsCmd() *cobra.Command {
	protocolsCmd := &cobra.Command{
		Use:   "protocols",
		Short: "List and author instruction protocols",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			application, err := buildApplication()
			if err != nil {
				return err
			}
			protocols, err := application.Protocols.List(ctx)
			if err != nil {
				return err
			}
			if len(protocols) == 0 {
				fmt.Println("No stored protocols.")
				return nil
			}
			for _, p := range protocols {
				evolved := ""
				if p.IsEvolved {
					evolved = " (evolved)"
				}
				fmt.Printf("%-26s %s%s\n  %s\n", p.ID, p.Title, evolved, p.Desc)
			}
			return nil
		},
	}
	protocolsCmd.AddCommand(listCmd)

	evolveCmd := &cobra.Command{
		Use:   "evolve [demand]",
		Short: "Synthesize a protocol from a free-text demand (privileged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			application, err := privilegedApplication()
			if err != nil {
				return err
			}
			p, err := application.Protocols.Evolve(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Evolved %s: %s\n  %s\n", p.ID, p.Title, p.Desc)
			return nil
		},
	}
	protocolsCmd.AddCommand(evolveCmd)

	rmCmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a protocol (privileged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			application, err := privilegedApplication()
			if err != nil {
				return err
			}
			if err := application.Protocols.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("Protocol deleted.")
			return nil
		},
	}
	protocolsCmd.AddCommand(rmCmd)

	return protocolsCmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}
