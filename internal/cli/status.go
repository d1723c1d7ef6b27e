package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type statusReport struct {
	Phase         string        `json:"phase"`
	Authenticated bool          `json:"authenticated"`
	Username      string        `json:"username,omitempty"`
	Role          string        `json:"role,omitempty"`
	Name          string        `json:"name,omitempty"`
	Remaining     time.Duration `json:"remaining_ns"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

func newStatusCmd(f *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long:  "Load the stored credential, confirm it with the backend and print the session phase and profile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				if s.ctrl.HasStoredToken() {
					s.ctrl.Init(ctx)
				}

				state := s.ctrl.State(ctx)
				report := statusReport{
					Phase:         state.Phase.String(),
					Authenticated: state.Authenticated,
					Remaining:     s.ctrl.Store().Remaining(),
				}
				if state.User != nil {
					report.Username = state.User.Username
					report.Role = string(state.User.Role)
					report.Name = state.User.Name
				}
				if cred := s.ctrl.Store().Peek(); cred.Token != "" {
					exp := cred.ExpiresAt.UTC()
					report.ExpiresAt = &exp
				}

				if asJSON {
					enc := json.NewEncoder(s.out)
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				if !report.Authenticated {
					fmt.Fprintln(s.out, "not logged in")
					return nil
				}
				fmt.Fprintf(s.out, "logged in as %s (%s)\nphase: %s\nexpires in: %s\n",
					report.Username, report.Role, report.Phase, report.Remaining.Round(time.Second))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func newRefreshCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Verify the token and extend the session",
		Long:  "Call GET /auth/verify, extend the stored credential to the full TTL and refetch the profile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				if !s.ctrl.ManualRefresh(ctx) {
					return errors.New("refresh failed, please log in again")
				}
				fmt.Fprintf(s.out, "session extended, expires in %s\n", s.ctrl.Store().Remaining().Round(time.Second))
				return nil
			})
		},
	}
}
