package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonwang82/opencowork-sub001/internal/auth"
	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the cowork identity",
	Long: `Manage the authenticated identity.

Subcommands:
  login    Authenticate through the browser
  logout   Clear the stored identity
  status   Show the current identity`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate through the browser",
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored identity",
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current identity",
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func openConfigStore(cmd *cobra.Command) (*config.Store, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	store := storage.New(paths.StoragePath())
	return config.NewStore(cmd.Context(), store, paths.OverridePath())
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfgStore, err := openConfigStore(cmd)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()
	orchestrator := auth.New(cfgStore, bus, auth.NewHTTPAuthenticator())

	// The flow resolves through events; block here until one arrives.
	done := make(chan error, 1)
	bus.Subscribe(event.IdentityChanged, func(e event.Event) {
		done <- nil
	})
	bus.Subscribe(event.LoginFailed, func(e event.Event) {
		if data, ok := e.Data.(event.LoginFailedData); ok {
			done <- errors.New(data.Reason)
		} else {
			done <- errors.New("login failed")
		}
	})
	bus.Subscribe(event.LoginWaiting, func(e event.Event) {
		if data, ok := e.Data.(event.LoginWaitingData); ok {
			fmt.Println("Waiting for browser authorization at:", data.AuthURL)
		}
	})

	if err := orchestrator.Login(cmd.Context()); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(auth.DefaultTimeout + time.Minute):
		return errors.New("login did not resolve")
	}

	user := cfgStore.User()
	if user != nil {
		fmt.Printf("Logged in as %s (%s)\n", user.UserName, user.UserID)
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfgStore, err := openConfigStore(cmd)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()
	orchestrator := auth.New(cfgStore, bus, auth.NewHTTPAuthenticator())

	if err := orchestrator.Logout(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("Logged out")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfgStore, err := openConfigStore(cmd)
	if err != nil {
		return err
	}

	user := cfgStore.User()
	if user == nil {
		fmt.Println("Not logged in")
		return nil
	}

	fmt.Printf("User:       %s\n", user.UserName)
	fmt.Printf("ID:         %s\n", user.UserID)
	if user.UserNickname != "" {
		fmt.Printf("Nickname:   %s\n", user.UserNickname)
	}
	if user.Enterprise != "" {
		fmt.Printf("Enterprise: %s\n", user.Enterprise)
	}
	return nil
}
