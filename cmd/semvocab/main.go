// Package main provides the semvocab binary entry point.
// Semvocab serves a controlled vocabulary of ontology term trees,
// curator-proposed provisional terms and axiom consistency checks.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semvocab/axiom"
	"github.com/c360studio/semvocab/config"
	"github.com/c360studio/semvocab/export"
	"github.com/c360studio/semvocab/service"
	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semvocab"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Controlled vocabulary and axiom service",
		Long: `Semvocab serves ontology term trees for annotation schemas.

It provides:
- Vocabulary snapshots loaded from a compiled dump and reloaded on change
- Provisional terms proposed by curators, persisted in memory, bbolt or NATS KV
- Axiom rules that check annotations for consistency`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		c.serveCmd(),
		c.checkCmd(),
		c.treeCmd(),
		c.rulesCmd(),
		c.exportCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func (c *cli) setup() (*config.Config, *slog.Logger, error) {
	logger := newLogger(c.logLevel)
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	if c.configPath != "" {
		loader = loader.WithPath(c.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the vocabulary and keep it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}

			signalCtx, signalCancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer signalCancel()

			app := NewApp(cfg, logger)
			defer app.Shutdown(10 * time.Second)
			if err := app.Start(signalCtx); err != nil {
				return err
			}

			logger.Info("Semvocab ready", "version", Version)
			err = app.Run(signalCtx)
			logger.Info("Semvocab shutdown complete")
			return err
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	var schemaURI string
	cmd := &cobra.Command{
		Use:   "check <annotations.json>",
		Short: "Evaluate an annotation set against the axioms",
		Long: `Check reads a JSON document of the form
  {"schemaURI": "bas:CommonAssayTemplate", "annotations": [{"propURI": ..., "valueURI": ...}]}
and prints the violations, justifications and additional suggestions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}
			req, err := readRequest(args[0])
			if err != nil {
				return err
			}
			if schemaURI != "" {
				req.SchemaURI = schemaURI
			}

			svc, err := service.New(cmd.Context(), offlineConfig(cfg, logger))
			if err != nil {
				return err
			}
			res, err := svc.Evaluate(req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&schemaURI, "schema", "", "Schema URI (overrides the document)")
	return cmd
}

// offlineConfig configures a service for one-shot commands: no NATS,
// in-memory provisional store, no memo.
func offlineConfig(cfg *config.Config, logger *slog.Logger) service.Config {
	return service.Config{
		SnapshotPath:      cfg.Vocab.SnapshotPath,
		AxiomDir:          cfg.Axioms.Dir,
		AxiomPattern:      cfg.Axioms.Pattern,
		SchemaDir:         cfg.Schemas.Dir,
		SchemaPattern:     cfg.Schemas.Pattern,
		ProvisionalPrefix: cfg.Vocab.ProvisionalPrefix,
		Logger:            logger,
	}
}

func readRequest(path string) (service.EvaluateRequest, error) {
	var req service.EvaluateRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read annotations: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse annotations %s: %w", path, err)
	}
	return req, nil
}

func (c *cli) treeCmd() *cobra.Command {
	var (
		schemaPrefix string
		groupNest    []string
	)
	cmd := &cobra.Command{
		Use:   "tree <propURI>",
		Short: "Print the vocabulary tree of a schema property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.setup()
			if err != nil {
				return err
			}
			snap, err := vocab.LoadFile(cfg.Vocab.SnapshotPath)
			if err != nil {
				return err
			}
			tree := snap.Tree(schemaPrefix, args[0], groupNest)
			if tree == nil {
				return fmt.Errorf("no tree for %s in schema %s", args[0], schemaPrefix)
			}
			printTree(cmd.OutOrStdout(), tree)
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPrefix, "schema-prefix", "bas:", "Schema prefix owning the tree")
	cmd.Flags().StringSliceVar(&groupNest, "group", nil, "Group nest URIs, innermost first")
	return cmd
}

func printTree(w io.Writer, tree *vocab.Tree) {
	for _, n := range tree.Flat() {
		marker := ""
		if n.Provisional {
			marker = " [provisional]"
		}
		fmt.Fprintf(w, "%s%s  %s%s\n",
			strings.Repeat("  ", n.Depth), vocabulary.Abbreviate(n.URI), n.Label, marker)
	}
}

func (c *cli) rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Load and merge the axiom rules and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.setup()
			if err != nil {
				return err
			}
			rules, err := axiom.LoadDir(cfg.Axioms.Dir, cfg.Axioms.Pattern)
			if err != nil {
				var cfgErr *axiom.ConfigurationError
				if errors.As(err, &cfgErr) {
					for _, se := range cfgErr.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", se.Error())
					}
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rules.Rules())
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the vocabulary snapshot as RDF",
		Long: `Export writes every term of the snapshot as an owl:Class with its
label, description, alternative labels, parents and remaps.

The format defaults to the extension of --output, or turtle when writing
to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}
			if format == "" {
				format = string(export.FormatTurtle)
				if ext := filepath.Ext(output); ext != "" {
					format = ext
				}
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			snap, err := vocab.LoadFile(cfg.Vocab.SnapshotPath)
			if err != nil {
				return err
			}
			out, err := export.NewRDFExporter(snap).Export(f)
			if err != nil {
				return err
			}

			if output == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			}
			if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			logger.Info("Exported vocabulary", "path", output, "format", f, "terms", snap.TermCount())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (turtle, ntriples, jsonld)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
