package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/secret"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rename, delete and verify API keys directly against the credential store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRenameCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyVerifyCmd())

	return cmd
}

// withKeys loads the configuration, opens the store and runs fn with the
// wired key services. Logs go to stderr so stdout stays machine-readable.
func withKeys(cmd *cobra.Command, fn func(ctx context.Context, k *keyStack) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, false, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	k, err := newKeyStack(cfg, st, logger, nil)
	if err != nil {
		return err
	}
	defer k.Close()

	return fn(cmd.Context(), k)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner string
		name  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Generate a new API key for an owner. The raw key is shown once and cannot be
retrieved again. When stdout is not a terminal only the raw key is printed.`,
		Example: `  keysmith key create --owner U1 --name ci-bot
  KEY=$(keysmith key create --owner U1 --name deploy)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, k *keyStack) error {
				return runKeyCreate(ctx, cmd.OutOrStdout(), k, owner, name)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id the key is issued to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key (required)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(ctx context.Context, out io.Writer, k *keyStack, owner, name string) error {
	res, err := k.issuer.Issue(ctx, model.IssueRequest{OwnerID: owner, Name: name})
	if err != nil {
		return errors.New(describeError(err))
	}

	if !isTerminal(out) {
		fmt.Fprintln(out, res.SecretOnce)
		return nil
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:    %s\n", res.SecretOnce)
	fmt.Fprintf(out, "  ID:     %s\n", res.ID)
	fmt.Fprintf(out, "  Name:   %s\n", res.Name)
	fmt.Fprintf(out, "  Prefix: %s\n", res.KeyPrefix)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an owner's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, k *keyStack) error {
				return runKeyList(ctx, cmd.OutOrStdout(), k, owner, jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, k *keyStack, owner string, jsonOutput bool) error {
	keys, err := k.issuer.List(ctx, model.ListRequest{OwnerID: owner})
	if err != nil {
		return errors.New(describeError(err))
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintf(out, "No API keys for owner %q. Use 'keysmith key create' to create one.\n", owner)
		return nil
	}

	fmt.Fprintf(out, "%-36s %-10s %-24s %-20s %-20s\n", "ID", "PREFIX", "NAME", "CREATED", "LAST USED")
	fmt.Fprintf(out, "%-36s %-10s %-24s %-20s %-20s\n", "--", "------", "----", "-------", "---------")
	for _, key := range keys {
		lastUsed := "never"
		if key.LastUsedAt != nil {
			lastUsed = key.LastUsedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "%-36s %-10s %-24s %-20s %-20s\n",
			key.ID, key.KeyPrefix, key.Name, key.CreatedAt.Local().Format(time.DateTime), lastUsed)
	}

	return nil
}

// ---------- key rename ----------

func newKeyRenameCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Change the label of an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, k *keyStack) error {
				meta, err := k.issuer.Rename(ctx, model.RenameRequest{OwnerID: owner, ID: args[0], Name: args[1]})
				if err != nil {
					return errors.New(describeError(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed API key %s to %q\n", meta.ID, meta.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "revoke"},
		Short:   "Permanently delete an API key",
		Long:    "Delete an API key. Any request presenting it afterwards is rejected.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, k *keyStack) error {
				err := k.issuer.Delete(ctx, model.DeleteRequest{OwnerID: owner, ID: args[0]})
				if err != nil {
					return errors.New(describeError(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [key]",
		Short: "Check a raw API key and print the identity it resolves to",
		Long: `Verify a raw API key. Pass "-" or omit the argument to read the key from
stdin, which keeps it out of shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 && args[0] != "-" {
				raw = args[0]
			} else {
				var err error
				if raw, err = readKey(cmd); err != nil {
					return err
				}
			}
			return withKeys(cmd, func(ctx context.Context, k *keyStack) error {
				id, err := k.verifier.Verify(ctx, raw)
				if err != nil {
					return errors.New(describeError(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s is valid\n", secret.Redact(raw))
				fmt.Fprintf(cmd.OutOrStdout(), "  Owner: %s\n", id.OwnerID)
				fmt.Fprintf(cmd.OutOrStdout(), "  ID:    %s\n", id.CredentialID)
				return nil
			})
		},
	}

	return cmd
}

// readKey reads a raw key from stdin, without echo when stdin is a terminal.
func readKey(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
