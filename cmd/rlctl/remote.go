package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/researchledger/pkg/client"
)

func (o *rootOptions) client() (*client.Client, error) {
	var opts []client.Option
	if o.token != "" {
		opts = append(opts, client.WithBearerToken(o.token))
	}
	return client.New(o.serverURL, opts...)
}

func parsePayload(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func printEntry(cmd *cobra.Command, e *client.Entry) {
	fmt.Fprintf(cmd.OutOrStdout(), "seq %d  %s  %s\n", e.Seq, e.EventType, e.ChainHash)
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [session-id]",
		Short: "Create a session (the server picks an id when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			s, err := c.CreateSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "start <session-id>",
		Short: "Record the SESSION_STARTED marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			e, err := c.Start(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			printEntry(cmd, e)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object payload")
	return cmd
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "record <session-id> <event-type>",
		Short: "Append an event to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload(payload)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			e, err := c.Record(cmd.Context(), args[0], args[1], p)
			if err != nil {
				return err
			}
			printEntry(cmd, e)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON object payload")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		out string
		aux []string
	)
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Build and download a session's export bundle",
		Long: `export asks researchd to build the bundle and saves it as a zip.
Extra documents are attached with --aux bundle/path=local-file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make(map[string]string, len(aux))
			for _, a := range aux {
				bundlePath, local, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("--aux %q: want bundle/path=local-file", a)
				}
				data, err := os.ReadFile(local)
				if err != nil {
					return err
				}
				docs[bundlePath] = string(data)
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Export(cmd.Context(), args[0], docs)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".zip"
			}
			if err := os.WriteFile(out, res.Zip, 0o644); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "wrote %s\n", out)
			fmt.Fprintf(w, "root hash: %s\n", res.RootHash)
			fmt.Fprintf(w, "trusted:   %t\n", res.Trusted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <session-id>.zip)")
	cmd.Flags().StringArrayVar(&aux, "aux", nil, "auxiliary document as bundle/path=local-file (repeatable)")
	return cmd
}
