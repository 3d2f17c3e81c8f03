package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/database"
	"github.com/stemsi/trivia-backend/internal/logger"
	"github.com/stemsi/trivia-backend/internal/repository"
	"github.com/stemsi/trivia-backend/internal/service"
	"golang.org/x/term"
)

const minPasswordLength = 8

func newCreateUserCmd(cfg func() *config.Config) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account, prompting for anything not given as a flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			log := logger.Setup(c.LogLevel, c.LogFormat)
			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			var err error
			if name == "" {
				if name, err = prompt(reader, out, "Enter Name: "); err != nil {
					return err
				}
			}
			if email == "" {
				if email, err = prompt(reader, out, "Enter Email: "); err != nil {
					return err
				}
			}
			if name == "" || email == "" {
				return errors.New("name and email are required")
			}

			password, err := readPassword(reader, out)
			if err != nil {
				return err
			}
			if len(password) < minPasswordLength {
				return fmt.Errorf("password must be at least %d characters", minPasswordLength)
			}

			pool, err := database.NewPostgresPool(cmd.Context(), c, log)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			auth := service.NewAuthService(c, repository.NewUserRepository(pool))
			user, err := auth.CreateUser(cmd.Context(), email, name, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Created user %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func prompt(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword hides input on a terminal and falls back to a plain line
// when stdin is piped.
func readPassword(reader *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(reader, out, "Enter Password: ")
	}
	fmt.Fprint(out, "Enter Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
