package main

import (
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/gotd/fleet/internal/config"
	"github.com/gotd/fleet/internal/store"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleet",
		Short:         "Admin bot for a fleet of platform accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newRunCommand(),
		newAdminCommand(),
		newCredentialsCommand(),
	)
	return root
}

// withStore loads config and opens document store for offline commands.
func withStore(f func(st *store.Store) error) (rerr error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath(), &pebble.Options{})
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := st.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close store")
		}
	}()
	return f(st)
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage bot admins",
	}

	var days int
	add := &cobra.Command{
		Use:   "add <user_id>",
		Short: "Grant admin access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if days < 0 {
				return errors.Errorf("invalid days %d", days)
			}
			return withStore(func(st *store.Store) error {
				if err := st.AddAdmin(id, time.Duration(days)*24*time.Hour); err != nil {
					return errors.Wrap(err, "add admin")
				}
				cmd.Printf("Admin %d added\n", id)
				return nil
			})
		},
	}
	add.Flags().IntVar(&days, "days", 0, "access duration in days, 0 is permanent")

	remove := &cobra.Command{
		Use:   "remove <user_id>",
		Short: "Revoke admin access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(st *store.Store) error {
				found, err := st.RemoveAdmin(id)
				if err != nil {
					return errors.Wrap(err, "remove admin")
				}
				if !found {
					return errors.Errorf("user %d is not an admin", id)
				}
				cmd.Printf("Admin %d removed\n", id)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *store.Store) error {
				for _, a := range st.ValidAdmins() {
					expires := "never"
					if a.ExpiresAt != nil {
						expires = a.ExpiresAt.Format(time.RFC3339)
					}
					cmd.Printf("%d\texpires: %s\n", a.UserID, expires)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage global application credentials",
	}
	set := &cobra.Command{
		Use:   "set <api_id> <api_hash>",
		Short: "Set application credentials used for new accounts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return errors.Errorf("invalid api id %q", args[0])
			}
			hash := args[1]
			if hash == "" {
				return errors.New("empty api hash")
			}
			return withStore(func(st *store.Store) error {
				if err := st.SetAPIID(id); err != nil {
					return errors.Wrap(err, "set api id")
				}
				if err := st.SetAPIHash(hash); err != nil {
					return errors.Wrap(err, "set api hash")
				}
				cmd.Println("Credentials saved")
				return nil
			})
		},
	}
	cmd.AddCommand(set)
	return cmd
}
