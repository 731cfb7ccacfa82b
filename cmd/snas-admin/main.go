// Command snas-admin is a thin CLI that issues NATS requests against a
// running snasd's admin subject tree, for operators to add, delete,
// and inspect users without writing a NATS client of their own.
//
// Grounded on warren's cmd/warren/apply.go: a cobra subcommand
// per resource operation that opens a connection, makes one request,
// prints the result, and exits — no persistent session state.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snas-admin",
	Short: "Administer a running SNAS server over NATS",
}

func init() {
	rootCmd.PersistentFlags().String("server", "127.0.0.1:4222", "NATS server address")
	rootCmd.PersistentFlags().String("admin-prefix", "snas.admin", "Admin subject prefix")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Request timeout")

	rootCmd.AddCommand(addUserCmd, deleteUserCmd, listUsersCmd, getUserCmd,
		addGroupsCmd, removeGroupsCmd, setPasswordCmd, forceResetCmd)

	addUserCmd.Flags().String("password", "", "Initial password (required)")
	addUserCmd.Flags().StringSlice("groups", nil, "Initial group memberships")
	addUserCmd.Flags().Bool("force-reset", false, "Require a password change on first use")
	_ = addUserCmd.MarkFlagRequired("password")

	addGroupsCmd.Flags().StringSlice("groups", nil, "Groups to add (required)")
	_ = addGroupsCmd.MarkFlagRequired("groups")

	removeGroupsCmd.Flags().StringSlice("groups", nil, "Groups to remove (required)")
	_ = removeGroupsCmd.MarkFlagRequired("groups")

	setPasswordCmd.Flags().String("password", "", "New password (required)")
	setPasswordCmd.Flags().Bool("force-reset", false, "Require a further password change on next use")
	_ = setPasswordCmd.MarkFlagRequired("password")
}

// envelope mirrors internal/transport/messaging.Envelope: this CLI
// deliberately does not import that server package to keep it a true
// external client, the way warren's cmd/warren talks to
// pkg/api only through its generated client stubs.
type envelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func request(cmd *cobra.Command, method string, body any) (envelope, error) {
	serverAddr, _ := cmd.Flags().GetString("server")
	prefix, _ := cmd.Flags().GetString("admin-prefix")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	nc, err := nats.Connect("nats://" + serverAddr)
	if err != nil {
		return envelope{}, fmt.Errorf("connecting to %s: %w", serverAddr, err)
	}
	defer nc.Close()

	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, fmt.Errorf("encoding request: %w", err)
	}

	msg, err := nc.Request(prefix+"."+method, payload, timeout)
	if err != nil {
		return envelope{}, fmt.Errorf("request to %s: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return envelope{}, fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		return env, fmt.Errorf("%s", env.Message)
	}
	return env, nil
}

var addUserCmd = &cobra.Command{
	Use:   "add-user USERNAME",
	Short: "Create a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		groups, _ := cmd.Flags().GetStringSlice("groups")
		forceReset, _ := cmd.Flags().GetBool("force-reset")

		_, err := request(cmd, "add_user", map[string]any{
			"username":    args[0],
			"password":    password,
			"groups":      groups,
			"force_reset": forceReset,
		})
		if err != nil {
			return err
		}
		fmt.Printf("user added: %s\n", args[0])
		return nil
	},
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete-user USERNAME",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := request(cmd, "delete_user", map[string]any{"username": args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("user deleted: %s\n", args[0])
		return nil
	},
}

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List every username in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := request(cmd, "list_users", struct{}{})
		if err != nil {
			return err
		}
		var resp struct {
			Usernames []string `json:"usernames"`
		}
		if err := json.Unmarshal(env.Response, &resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		for _, u := range resp.Usernames {
			fmt.Println(u)
		}
		return nil
	},
}

var getUserCmd = &cobra.Command{
	Use:   "get-user USERNAME",
	Short: "Show a user's groups and reset status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := request(cmd, "get_user", map[string]any{"username": args[0]})
		if err != nil {
			return err
		}
		var resp struct {
			Username           string   `json:"username"`
			Groups             []string `json:"groups"`
			NeedsPasswordReset bool     `json:"needs_password_reset"`
		}
		if err := json.Unmarshal(env.Response, &resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		fmt.Printf("username: %s\n", resp.Username)
		fmt.Printf("groups: %s\n", strings.Join(resp.Groups, ","))
		fmt.Printf("needs_password_reset: %t\n", resp.NeedsPasswordReset)
		return nil
	},
}

var addGroupsCmd = &cobra.Command{
	Use:   "add-groups USERNAME",
	Short: "Add group memberships to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, _ := cmd.Flags().GetStringSlice("groups")
		_, err := request(cmd, "add_groups", map[string]any{"username": args[0], "groups": groups})
		if err != nil {
			return err
		}
		fmt.Printf("groups added for %s: %s\n", args[0], strings.Join(groups, ","))
		return nil
	},
}

var removeGroupsCmd = &cobra.Command{
	Use:   "remove-groups USERNAME",
	Short: "Remove group memberships from a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, _ := cmd.Flags().GetStringSlice("groups")
		_, err := request(cmd, "remove_groups", map[string]any{"username": args[0], "groups": groups})
		if err != nil {
			return err
		}
		fmt.Printf("groups removed for %s: %s\n", args[0], strings.Join(groups, ","))
		return nil
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password USERNAME",
	Short: "Set a user's password as an administrator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		forceReset, _ := cmd.Flags().GetBool("force-reset")
		_, err := request(cmd, "set_password", map[string]any{
			"username":     args[0],
			"new_password": password,
			"force_reset":  forceReset,
		})
		if err != nil {
			return err
		}
		fmt.Printf("password set for %s\n", args[0])
		return nil
	},
}

var forceResetCmd = &cobra.Command{
	Use:   "force-reset USERNAME",
	Short: "Require a password change on a user's next use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := request(cmd, "force_reset", map[string]any{"username": args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("password reset forced for %s\n", args[0])
		return nil
	},
}
