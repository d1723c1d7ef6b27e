package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rare-Specie/authkeeper"
	"github.com/Rare-Specie/authkeeper/model"
	"github.com/spf13/cobra"
)

func newLoginCmd(f *rootFlags) *cobra.Command {
	var username, password, role string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long:  "Authenticate against POST /auth/login and persist the token for later commands. The password is read from stdin when --password is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := model.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q (admin, teacher, student)", role)
			}
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}

			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				resp, err := s.ctrl.Login(ctx, authkeeper.LoginRequest{Username: username, Password: password, Role: r})
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				fmt.Fprintf(s.out, "logged in as %s (%s)\n", resp.User.Username, resp.User.Role)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted if omitted)")
	cmd.Flags().StringVarP(&role, "role", "r", string(model.RoleStudent), "role to log in as (admin, teacher, student)")
	return cmd
}

func newLogoutCmd(f *rootFlags) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Long:  "Call POST /auth/logout and clear the stored credential and snapshot. The local state is cleared even when the server call fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				s.ctrl.Logout(ctx, authkeeper.LogoutOptions{SkipServerCall: local})
				fmt.Fprintln(s.out, "logged out")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "only clear local state, skip the server call")
	return cmd
}

func newPasswdCmd(f *rootFlags) *cobra.Command {
	var oldPassword, newPassword string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if oldPassword == "" || newPassword == "" {
				return errors.New("--old and --new are required")
			}
			return f.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.ChangePassword(ctx, oldPassword, newPassword); err != nil {
					return fmt.Errorf("change password: %w", err)
				}
				fmt.Fprintln(s.out, "password changed")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	return cmd
}
