package cli

import (
	"context"
	"fmt"

	"github.com/Rare-Specie/authkeeper/gatekeeper"
	"github.com/spf13/cobra"
)

func newNavigateCmd(f *rootFlags) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "navigate <path>",
		Short: "Ask the gatekeeper about a route",
		Long:  "Run one navigation decision against the school-manager route table with the stored session and print the outcome.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				routes := gatekeeper.DefaultRoutes()
				gk := gatekeeper.ForController(s.ctrl, gatekeeper.WithLogger(s.logger))

				d := gk.Resolve(ctx, gatekeeper.Navigation{
					From: routes.Lookup(from),
					To:   routes.Lookup(args[0]),
				})
				gk.Wait()

				switch d.Action {
				case gatekeeper.ActionRedirect:
					fmt.Fprintf(s.out, "redirect %s\n", d.Target)
				default:
					fmt.Fprintln(s.out, d.Action.String())
				}
				if d.Notice != nil {
					fmt.Fprintf(s.out, "notice: %s\n", d.Notice.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "/", "route the navigation starts from")
	return cmd
}
