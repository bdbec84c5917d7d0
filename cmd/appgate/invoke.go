package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/pitabwire/appgate/internal/resource"
	"github.com/pitabwire/appgate/invoker"
	"github.com/pitabwire/appgate/model"
)

func newResourcesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List configured resource aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadRuntime(opts, opts.stderr)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ALIAS\tKIND\tAPPLICATION\tRESOURCE\tDESCRIPTION")
			for _, b := range deps.catalog.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.Alias, b.Kind, b.ApplicationID, b.ResourceID, b.Description)
			}
			return tw.Flush()
		},
	}
}

// invokeFlags are shared by every invoke subcommand.
type invokeFlags struct {
	invocationKey string
	timeoutMs     int
}

// timeout returns --timeout-ms and whether it was given on the command line.
func (f *invokeFlags) timeout(cmd *cobra.Command) (int, bool) {
	return f.timeoutMs, cmd.Flags().Changed("timeout-ms")
}

func newInvokeCommand(opts *globalOptions) *cobra.Command {
	flags := &invokeFlags{}
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Send one invocation and print the gateway envelope",
		Long: `Send one invocation to a configured resource and print the gateway
envelope as JSON. Exits 1 when the round trip fails and 2 when the gateway
reports ok:false.`,
	}
	cmd.PersistentFlags().StringVar(&flags.invocationKey, "invocation-key", "", "invocation key (generated when empty)")
	cmd.PersistentFlags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "per-invocation timeout in milliseconds, passed to the gateway")

	cmd.AddCommand(
		newInvokeSQLCommand(opts, flags),
		newInvokeHTTPCommand(opts, flags, "api"),
		newInvokeHTTPCommand(opts, flags, "hubspot"),
		newInvokeS3Command(opts, flags),
		newInvokePresignCommand(opts, flags),
	)
	return cmd
}

func newInvokeSQLCommand(opts *globalOptions, flags *invokeFlags) *cobra.Command {
	var params []string
	var named []string
	cmd := &cobra.Command{
		Use:   "sql <alias> <statement>",
		Short: "Run a SQL statement on a PostgreSQL resource",
		Example: `  appgate invoke sql orders-db 'SELECT * FROM orders WHERE id = $1' --param 42
  appgate invoke sql orders-db 'SELECT * FROM orders WHERE id = @id' --arg id=42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildDatabasePayload(args[1], params, named)
			if err != nil {
				return err
			}
			if ms, ok := flags.timeout(cmd); ok {
				p = p.WithTimeout(ms)
			}
			return invokeAndPrint(cmd.Context(), opts, flags, args[0], p,
				func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error) {
					return c.Database(ctx, rctx, t, p)
				})
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "positional parameter; JSON scalars are decoded, anything else is a string")
	cmd.Flags().StringArrayVar(&named, "arg", nil, "named argument name=value for @name placeholders")
	cmd.MarkFlagsMutuallyExclusive("param", "arg")
	return cmd
}

func buildDatabasePayload(sql string, params, named []string) (model.DatabasePayload, error) {
	if len(named) == 0 {
		values := make([]any, len(params))
		for i, p := range params {
			values[i] = parseScalar(p)
		}
		return model.NewDatabasePayload(sql, values...), nil
	}

	args := make(pgx.NamedArgs, len(named))
	for _, kv := range named {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return model.DatabasePayload{}, fmt.Errorf("invalid --arg %q: want name=value", kv)
		}
		args[k] = parseScalar(v)
	}
	return invoker.NamedQuery(sql, args)
}

// parseScalar decodes s as a JSON scalar, falling back to the raw string.
func parseScalar(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case nil, bool, float64, string:
		return v
	}
	return s
}

func newInvokeHTTPCommand(opts *globalOptions, flags *invokeFlags, family string) *cobra.Command {
	var query, headers []string
	var jsonBody, textBody string

	short := "Call a path on a custom REST API resource"
	if family == "hubspot" {
		short = "Call a path on the HubSpot API"
	}
	cmd := &cobra.Command{
		Use:   family + " <alias> <METHOD> <path>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := model.HTTPMethod(strings.ToUpper(args[1]))
			q, err := parsePairs(query, "--query")
			if err != nil {
				return err
			}
			body, err := parseBody(jsonBody, textBody)
			if err != nil {
				return err
			}

			if family == "hubspot" {
				p := model.NewHubSpotPayload(method, args[2]).
					WithQuery(model.QueryFromValues(q)).
					WithBody(body)
				if ms, ok := flags.timeout(cmd); ok {
					p = p.WithTimeout(ms)
				}
				return invokeAndPrint(cmd.Context(), opts, flags, args[0], p,
					func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error) {
						return c.HubSpot(ctx, rctx, t, p)
					})
			}

			h, err := parsePairs(headers, "--header")
			if err != nil {
				return err
			}
			var hdrs map[string]string
			if len(h) > 0 {
				hdrs = make(map[string]string, len(h))
				for k := range h {
					hdrs[k] = h.Get(k)
				}
			}
			p := model.NewCustomAPIPayload(method, args[2]).
				WithQuery(model.QueryFromValues(q)).
				WithHeaders(hdrs).
				WithBody(body)
			if ms, ok := flags.timeout(cmd); ok {
				p = p.WithTimeout(ms)
			}
			return invokeAndPrint(cmd.Context(), opts, flags, args[0], p,
				func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error) {
					return c.CustomAPI(ctx, rctx, t, p)
				})
		},
	}
	cmd.Flags().StringArrayVar(&query, "query", nil, "query parameter k=v (repeat a key for a list)")
	if family == "api" {
		cmd.Flags().StringArrayVar(&headers, "header", nil, "request header k=v")
	}
	cmd.Flags().StringVar(&jsonBody, "json", "", "JSON request body")
	cmd.Flags().StringVar(&textBody, "text", "", "plain text request body")
	cmd.MarkFlagsMutuallyExclusive("json", "text")
	return cmd
}

func parsePairs(pairs []string, flag string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	v := url.Values{}
	for _, kv := range pairs {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid %s %q: want key=value", flag, kv)
		}
		v.Add(k, val)
	}
	return v, nil
}

func parseBody(jsonBody, textBody string) (model.Body, error) {
	switch {
	case jsonBody != "":
		var v any
		if err := json.Unmarshal([]byte(jsonBody), &v); err != nil {
			return nil, fmt.Errorf("invalid --json body: %w", err)
		}
		return model.JSONBody{Value: v}, nil
	case textBody != "":
		return model.TextBody{Value: textBody}, nil
	}
	return nil, nil
}

func newInvokeS3Command(opts *globalOptions, flags *invokeFlags) *cobra.Command {
	var rawParams string
	cmd := &cobra.Command{
		Use:     "s3 <alias> <command>",
		Short:   "Issue a storage command on an S3 resource",
		Example: `  appgate invoke s3 media ListObjectsV2 --params '{"Bucket":"media","Prefix":"2024/"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildStoragePayload(model.StorageCommand(args[1]), rawParams)
			if err != nil {
				return err
			}
			if ms, ok := flags.timeout(cmd); ok {
				p = p.WithTimeout(ms)
			}
			return invokeAndPrint(cmd.Context(), opts, flags, args[0], p,
				func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error) {
					return c.Storage(ctx, rctx, t, p)
				})
		},
	}
	cmd.Flags().StringVar(&rawParams, "params", "{}", "command input as JSON, using the S3 SDK field names")
	return cmd
}

// buildStoragePayload decodes the params into the SDK input for command so
// the SDK's own validation runs before anything is sent.
func buildStoragePayload(command model.StorageCommand, rawParams string) (model.StoragePayload, error) {
	if command == model.CmdGeneratePresignedURL {
		return model.StoragePayload{}, fmt.Errorf("use \"appgate invoke presign\" for %s", command)
	}
	input, ok := invoker.NewStorageInput(command)
	if !ok {
		return model.StoragePayload{}, fmt.Errorf("unknown storage command %q", command)
	}
	if err := json.Unmarshal([]byte(rawParams), input); err != nil {
		return model.StoragePayload{}, fmt.Errorf("invalid --params: %w", err)
	}
	return invoker.StoragePayloadFromInput(input)
}

func newInvokePresignCommand(opts *globalOptions, flags *invokeFlags) *cobra.Command {
	var operation string
	var expires time.Duration
	cmd := &cobra.Command{
		Use:   "presign <alias> <bucket> <key>",
		Short: "Generate a presigned URL for one object",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := invoker.PresignPayload(args[1], args[2], operation, expires)
			if err != nil {
				return err
			}
			if ms, ok := flags.timeout(cmd); ok {
				p = p.WithTimeout(ms)
			}
			return invokeAndPrint(cmd.Context(), opts, flags, args[0], p,
				func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error) {
					return c.Storage(ctx, rctx, t, p)
				})
		},
	}
	cmd.Flags().StringVar(&operation, "operation", invoker.PresignGetObject, "GetObject or PutObject")
	cmd.Flags().DurationVar(&expires, "expires", 15*time.Minute, "URL lifetime")
	return cmd
}

// envelope is any typed gateway envelope.
type envelope interface {
	OK() bool
}

type familyCall func(ctx context.Context, c *invoker.Client, rctx *model.RequestContext, t invoker.Target) (envelope, error)

// invokeAndPrint resolves alias, runs call and prints the envelope. The
// exit status distinguishes a failed round trip from an ok:false envelope.
func invokeAndPrint(ctx context.Context, opts *globalOptions, flags *invokeFlags, alias string, payload model.InvokePayload, call familyCall) error {
	deps, err := loadRuntime(opts, opts.stderr)
	if err != nil {
		return err
	}
	defer deps.logger.Sync()

	binding, err := deps.catalog.Bind(alias, payload)
	if err != nil {
		return bindError(err)
	}
	client, err := deps.newClient(nil)
	if err != nil {
		return err
	}

	target := invoker.NewTarget(binding.ApplicationID, binding.ResourceID)
	if flags.invocationKey != "" {
		target = binding.Target(flags.invocationKey)
	}
	rctx := &model.RequestContext{
		EndUserToken:  opts.endUserToken,
		CorrelationID: opts.correlationID,
	}

	resp, err := call(ctx, client, rctx, target)
	if err != nil {
		return &exitError{code: exitInvocationErr, err: err}
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return &exitError{code: exitInvocationErr, err: err}
	}
	fmt.Fprintln(opts.stdout, string(out))

	if !resp.OK() {
		return &exitError{code: exitFailedEnvelope}
	}
	return nil
}

func bindError(err error) error {
	var mismatch *resource.KindMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("%s is a %s resource, not %s", mismatch.Alias, mismatch.Want, mismatch.Got)
	}
	return err
}
