package app

import (
	"strings"

	"github.com/spf13/cobra"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

func (s *runtimeState) newAttemptsCommand() *cobra.Command {
	root := &cobra.Command{Use: "attempts", Short: "Inspect the execution journal"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := s.openStore()
			if err != nil {
				return err
			}
			attempts, err := store.List(strings.TrimSpace(status), limit)
			if err != nil {
				return swaperr.Wrap(swaperr.CodeInternal, "list attempts", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), attempts, nil)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (e.g. submitted, reverted)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum attempts to return")
	root.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <attempt-id>",
		Short: "Show one attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openStore()
			if err != nil {
				return err
			}
			attempt, err := store.Get(args[0])
			if err != nil {
				return swaperr.Wrap(swaperr.CodeUsage, "read attempt", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), attempt, nil)
		},
	}
	root.AddCommand(show)

	return root
}
