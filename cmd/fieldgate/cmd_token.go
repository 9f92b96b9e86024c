package main

import (
	"fmt"
	"time"

	"fieldgate/module/model"
	"fieldgate/tools/security"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newTokenCmd signs a session token with the configured secret. Tokens are
// normally issued by the login service; this is for local runs and smoke
// tests.
func newTokenCmd(load configLoader) *cobra.Command {
	var (
		kind    string
		ver     int64
		client  string
		ttl     time.Duration
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "token <subjectId>",
		Short: "Sign a session token for an operator or worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := model.ParseKind(kind)
			if !ok {
				return errors.Errorf("kind must be %q or %q", model.KindOperator, model.KindWorker)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			opts := security.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, TTL: ttl}

			// no --version: a legacy token without a version claim
			var version *int64
			if cmd.Flags().Changed("version") {
				version = &ver
			}
			token, exp, err := security.Generate(opts, args[0], string(k), version, client)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.KindWorker), "subject kind: operator or worker")
	cmd.Flags().Int64Var(&ver, "version", 0, "session version claim")
	cmd.Flags().StringVar(&client, "client", "", "client class claim, e.g. web or mobile")
	cmd.Flags().DurationVar(&ttl, "ttl", 2*time.Hour, "token lifetime")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the expiry on stderr")
	return cmd
}
