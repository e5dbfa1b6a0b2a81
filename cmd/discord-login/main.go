package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/accorsirodrigo/fastbot/internal/client"
	"github.com/accorsirodrigo/fastbot/internal/config"
	"github.com/accorsirodrigo/fastbot/internal/domain"
)

const (
	welcomeDelay  = 1500 * time.Millisecond
	redirectDelay = 500 * time.Millisecond
	errorDelay    = 3 * time.Second
)

// app reúne lo que comparten los subcomandos.
type app struct {
	client *client.Client
	in     io.Reader
	out    io.Writer
	sleep  func(time.Duration)
	close  func() error
}

func main() {
	_ = godotenv.Load()

	a := &app{in: os.Stdin, out: os.Stdout, sleep: time.Sleep}
	root := newRootCmd(a)
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.open()
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, _ []string) error {
		if a.close != nil {
			return a.close()
		}
		return nil
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) open() error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, _ := zap.NewDevelopment()
	durable, err := client.OpenBoltStorage(cfg.SessionDB)
	if err != nil {
		return err
	}
	a.client = client.New(client.Options{
		BackendURL:   cfg.BackendURL,
		ClientID:     cfg.ClientID,
		RedirectURI:  cfg.RedirectURI,
		AuthorizeURL: cfg.AuthorizeURL,
		Scopes:       cfg.Scopes,
		Logger:       logger,
	}, durable, client.NewMemoryStorage())
	a.close = func() error {
		_ = logger.Sync()
		return durable.Close()
	}
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "discord-login",
		Short:         "Log in with Discord against the fastbot auth backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLoginCmd(a), newWhoamiCmd(a), newStatusCmd(a), newLogoutCmd(a))
	return root
}

func newLoginCmd(a *app) *cobra.Command {
	var returnURL string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start the Discord login and store the session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			authURL, err := a.client.InitiateLogin(returnURL)
			if err != nil {
				if errors.Is(err, client.ErrNotConfigured) {
					fmt.Fprintln(a.out, "Discord OAuth is not configured: set DISCORD_CLIENT_ID and DISCORD_REDIRECT_URI.")
				}
				return err
			}
			fmt.Fprintf(a.out, "Open this URL in your browser:\n\n  %s\n\nThen paste the URL you were redirected to:\n> ", authURL)

			line, err := bufio.NewReader(a.in).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read redirect url: %w", err)
			}
			line = strings.TrimSpace(line)
			if reason := errorReason(line); reason != "" {
				fmt.Fprintf(a.out, "Login failed (reason=%s)\n", reason)
				return fmt.Errorf("login failed: %s", reason)
			}

			receipt, err := a.client.ReceiveToken(cmd.Context(), line)
			if err != nil {
				fmt.Fprintf(a.out, "Authentication error: %v\n", err)
				a.sleep(errorDelay)
				var loginErr *client.LoginError
				if errors.As(err, &loginErr) {
					fmt.Fprintf(a.out, "See error page (reason=%s)\n", loginErr.Reason)
				}
				return err
			}

			printUser(a.out, receipt.User)
			a.sleep(welcomeDelay)
			fmt.Fprintln(a.out, "Redirecting...")
			a.sleep(redirectDelay)
			fmt.Fprintf(a.out, "Return URL: %s\n", receipt.ReturnURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&returnURL, "return-url", "/", "where to go after logging in")
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user of the stored session (asks the backend)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.client.FetchUser(cmd.Context())
			if err != nil {
				if errors.Is(err, client.ErrUnauthenticated) || errors.Is(err, client.ErrSessionExpired) {
					fmt.Fprintln(a.out, "Not logged in.")
				}
				return err
			}
			printUser(a.out, user)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a non-expired session token is stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.out, "authenticated: %t\n", a.client.IsAuthenticated())
			if user, ok := a.client.CurrentUser(); ok {
				fmt.Fprintf(a.out, "cached user: %s\n", displayName(user))
			}
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := a.client.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}

func printUser(out io.Writer, user domain.PublicUser) {
	email := user.Email
	if email == "" {
		email = "email not available"
	}
	fmt.Fprintf(out, "Welcome, %s (%s)\n", displayName(user), email)
	fmt.Fprintf(out, "Avatar: %s\n", client.AvatarURL(user))
}

func displayName(user domain.PublicUser) string {
	if user.Discriminator != "" && user.Discriminator != "0" {
		return user.Username + "#" + user.Discriminator
	}
	return user.Username
}

// errorReason devuelve el reason si la URL pegada es la página de error del frontend.
func errorReason(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(u.Path, "/pages/auth/error") {
		return ""
	}
	if reason := u.Query().Get("reason"); reason != "" {
		return reason
	}
	return "unknown"
}
