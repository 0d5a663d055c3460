package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/api3dao/commons-go/pkg/client"
	"github.com/api3dao/commons-go/pkg/confighash"
	"github.com/api3dao/commons-go/pkg/configparsing"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/ois"
	"github.com/api3dao/commons-go/pkg/processing"
)

// runner is implemented by both the in-process Processor and the API client.
type runner interface {
	PreProcess(ctx context.Context, endpoint *ois.Endpoint, params processing.Parameters) (*processing.PreProcessingResponse, error)
	PostProcess(ctx context.Context, endpoint *ois.Endpoint, response interface{}, params processing.Parameters) (*processing.PostProcessingResponse, error)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "processing-cli",
		Short:         "Endpoint processing CLI",
		Long:          "Run endpoint pre- and post-processing snippets locally or on a processing server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	rootCmd.PersistentFlags().String("server", getEnvDefault("ORACLE_SERVER_URL", ""), "Processing server URL (runs locally when empty)")
	rootCmd.PersistentFlags().String("token", os.Getenv("ORACLE_SERVICE_TOKEN"), "Service token for the processing server")
	rootCmd.PersistentFlags().Duration("timeout", processing.DefaultTotalTimeout, "Total processing timeout")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log snippet console output at debug level")

	rootCmd.AddCommand(newPreProcessCmd())
	rootCmd.AddCommand(newPostProcessCmd())
	rootCmd.AddCommand(newEndpointsCmd())
	rootCmd.AddCommand(newInterpolateCmd())
	rootCmd.AddCommand(newHashCmd())

	return rootCmd
}

func getRunner(cmd *cobra.Command) (runner, error) {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if server != "" {
		token, _ := cmd.Flags().GetString("token")
		return client.NewClient(client.Config{BaseURL: server, Token: token, Timeout: timeout}), nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := logger.LevelInfo
	if verbose {
		level = logger.LevelDebug
	}
	log, err := logger.New(logger.Config{
		Enabled:  true,
		Format:   logger.FormatPretty,
		MinLevel: level,
		Output:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return processing.NewProcessor(
		processing.WithLogger(log),
		processing.WithTotalTimeout(timeout),
	), nil
}

func newPreProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess <endpoint.(json|yaml)> [params.(json|yaml)]",
		Short: "Run pre-processing for an endpoint",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPreProcess,
	}
}

func runPreProcess(cmd *cobra.Command, args []string) error {
	endpoint, err := ois.LoadEndpoint(args[0])
	if err != nil {
		return err
	}
	params, err := readParameters(args, 1)
	if err != nil {
		return err
	}

	r, err := getRunner(cmd)
	if err != nil {
		return err
	}
	result, err := r.PreProcess(cmd.Context(), endpoint, params)
	if err != nil {
		return fmt.Errorf("pre-processing failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func newPostProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "postprocess <endpoint.(json|yaml)> <response.(json|yaml)> [params.(json|yaml)]",
		Short: "Run post-processing for an endpoint",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runPostProcess,
	}
}

func runPostProcess(cmd *cobra.Command, args []string) error {
	endpoint, err := ois.LoadEndpoint(args[0])
	if err != nil {
		return err
	}
	response, err := readDocument(args[1])
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	params, err := readParameters(args, 2)
	if err != nil {
		return err
	}

	r, err := getRunner(cmd)
	if err != nil {
		return err
	}
	result, err := r.PostProcess(cmd.Context(), endpoint, response, params)
	if err != nil {
		return fmt.Errorf("post-processing failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func newEndpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "List endpoints served by the processing server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			if server == "" {
				return fmt.Errorf("--server is required")
			}
			token, _ := cmd.Flags().GetString("token")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			c := client.NewClient(client.Config{BaseURL: server, Token: token, Timeout: timeout})

			names, err := c.ListEndpoints(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newInterpolateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interpolate <config.(json|yaml)> <secrets.env>",
		Short: "Interpolate secrets into a configuration file",
		Args:  cobra.ExactArgs(2),
		RunE:  runInterpolate,
	}

	cmd.Flags().Bool("disallow-blank", false, "Reject secrets with blank values")
	cmd.Flags().Bool("skip-name-validation", false, "Allow secret names that are not upper snake case")

	return cmd
}

func runInterpolate(cmd *cobra.Command, args []string) error {
	cfg, err := configparsing.LoadConfig(args[0])
	if err != nil {
		return err
	}
	secrets, err := configparsing.LoadSecrets(args[1])
	if err != nil {
		return err
	}

	disallowBlank, _ := cmd.Flags().GetBool("disallow-blank")
	skipNames, _ := cmd.Flags().GetBool("skip-name-validation")
	interpolated, err := configparsing.InterpolateSecrets(cfg, secrets, configparsing.InterpolationOptions{
		DisallowBlankSecretValue: disallowBlank,
		SkipSecretNameValidation: skipNames,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), interpolated)
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <config.(json|yaml)>",
		Short: "Print the SHA-256 hash of a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configparsing.LoadConfig(args[0])
			if err != nil {
				return err
			}
			hash, err := confighash.Hash(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readParameters(args []string, index int) (processing.Parameters, error) {
	if len(args) <= index {
		return processing.Parameters{}, nil
	}
	doc, err := readDocument(args[index])
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters: %w", err)
	}
	params, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameters must be an object")
	}
	return processing.Parameters(params), nil
}

// readDocument decodes a JSON or YAML file by extension.
func readDocument(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	return doc, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
