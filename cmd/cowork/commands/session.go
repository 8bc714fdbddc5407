package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/session"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
	Long: `Inspect the session registry.

Subcommands:
  list     List stored sessions
  clear    Delete every session`,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored sessions",
	RunE:    runSessionList,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every session",
	RunE:  runSessionClear,
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

func openSessionStore() *session.Store {
	paths := config.GetPaths()
	return session.NewStore(storage.New(paths.StoragePath()))
}

func runSessionList(cmd *cobra.Command, args []string) error {
	sessions := openSessionStore()

	list, err := sessions.List(cmd.Context())
	if err != nil {
		return err
	}
	current, _ := sessions.Current(cmd.Context())

	if len(list) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	for _, sess := range list {
		marker := " "
		if sess.ID == current {
			marker = "*"
		}
		created := time.UnixMilli(sess.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s %s  %-30s %s  %s\n", marker, sess.ID, sess.Title, created, sess.Directory)
	}
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	sessions := openSessionStore()

	if err := sessions.Clear(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("Sessions cleared")
	return nil
}
