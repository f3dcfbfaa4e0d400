package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/dataflow/internal/secrets"
)

func newSecretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted secrets referenced as ${{secrets.KEY}}",
		Long: `Manage secrets that node config can reference as ${{secrets.KEY}}, for
example in http_request URLs, headers and auth.

Values are encrypted with a key derived from DATAFLOW_VAULT_PASSPHRASE and
stored in the history database.`,
	}
	cmd.AddCommand(newSecretSetCmd(c), newSecretListCmd(c), newSecretDeleteCmd(c))
	return cmd
}

func withVault(cmd *cobra.Command, c *cli, fn func(*secrets.AESVault) error) error {
	a, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	v, err := a.requireVault()
	if err != nil {
		return err
	}
	return fn(v)
}

func newSecretSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <KEY> [value]",
		Short: "Store a secret; the value is read from stdin when omitted",
		Example: `  dataflow secret set SALES_API_TOKEN tok-123
  printf %s "$TOKEN" | dataflow secret set SALES_API_TOKEN`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				in, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = []byte(strings.TrimRight(string(in), "\r\n"))
			}
			return withVault(cmd, c, func(v *secrets.AESVault) error {
				if err := v.Store(cmd.Context(), args[0], value); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
				return nil
			})
		},
	}
}

func newSecretListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withVault(cmd, c, func(v *secrets.AESVault) error {
				keys, err := v.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range keys {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

func newSecretDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <KEY>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, c, func(v *secrets.AESVault) error {
				if err := v.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
