package main

import (
	"bufio"
	"fmt"
	"strings"

	"formvault/api/internal/rbac"

	"github.com/spf13/cobra"
)

// passwordReader hands out the lines of stdin in order. Passwords not
// given as flags are read from it so they stay out of shell history.
type passwordReader struct {
	scanner *bufio.Scanner
}

func (p *passwordReader) next(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(cmd.InOrStdin())
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: no input", strings.ToLower(prompt))
	}
	return strings.TrimRight(p.scanner.Text(), "\r"), nil
}

func newUserCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts in the auth collections",
	}
	cmd.AddCommand(newUserRegisterCmd(env), newUserLoginCmd(env), newUserPasswdCmd(env))
	return cmd
}

func newUserRegisterCmd(env *cliEnv) *cobra.Command {
	var name, role, password string
	cmd := &cobra.Command{
		Use:   "register EMAIL",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input passwordReader
			pw, err := input.next(cmd, password, "Password")
			if err != nil {
				return err
			}
			svc, err := env.auth(cmd.Context())
			if err != nil {
				return err
			}
			session, err := svc.Register(cmd.Context(), args[0], pw, name, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s %s (%s)\n", role, session.User.Email, session.User.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleUser), "Role class: user or admin")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: read from stdin)")
	return cmd
}

func newUserLoginCmd(env *cliEnv) *cobra.Command {
	var role, password string
	cmd := &cobra.Command{
		Use:   "login EMAIL",
		Short: "Check credentials and print a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input passwordReader
			pw, err := input.next(cmd, password, "Password")
			if err != nil {
				return err
			}
			svc, err := env.auth(cmd.Context())
			if err != nil {
				return err
			}
			session, err := svc.Login(cmd.Context(), args[0], pw, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleUser), "Role class: user or admin")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: read from stdin)")
	return cmd
}

func newUserPasswdCmd(env *cliEnv) *cobra.Command {
	var role, current, replacement string
	cmd := &cobra.Command{
		Use:   "passwd EMAIL",
		Short: "Change the password of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input passwordReader
			oldPassword, err := input.next(cmd, current, "Current password")
			if err != nil {
				return err
			}
			newPassword, err := input.next(cmd, replacement, "New password")
			if err != nil {
				return err
			}
			svc, err := env.auth(cmd.Context())
			if err != nil {
				return err
			}
			session, err := svc.Login(cmd.Context(), args[0], oldPassword, role)
			if err != nil {
				return err
			}
			if err := svc.ChangePassword(cmd.Context(), session.User.ID, oldPassword, newPassword, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed for %s\n", session.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleUser), "Role class: user or admin")
	cmd.Flags().StringVar(&current, "password", "", "Current password (default: first line of stdin)")
	cmd.Flags().StringVar(&replacement, "new-password", "", "New password (default: next line of stdin)")
	return cmd
}
