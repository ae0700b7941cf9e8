package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-branch-sdk/branch"
	"github.com/becomeliminal/nim-branch-sdk/core"
	"github.com/becomeliminal/nim-branch-sdk/engine"
	"github.com/becomeliminal/nim-branch-sdk/merge"
	"github.com/becomeliminal/nim-branch-sdk/snapshot"
	"github.com/becomeliminal/nim-branch-sdk/tools"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "branchctl",
		Short:         "Record, replay and merge reasoning branches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./branchctl.yaml)")
	flags.String("db", defaultDBPath, "sqlite snapshot database path")
	flags.String("llm-config", "", "provider profile JSON file; empty runs offline")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	for key, flag := range map[string]string{
		"storage.path": "db",
		"llm.config":   "llm-config",
		"log.level":    "log-level",
		"log.format":   "log-format",
	} {
		_ = a.viper.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newIngestCommand(a),
		newStepCommand(a),
		newListCommand(a),
		newInspectCommand(a),
		newReplayCommand(a),
		newMergeCommand(a),
		newSaveCommand(a),
		newLoadCommand(a),
		newDeleteCommand(a),
		newServeCommand(a),
	)
	return root
}

// restore loads a saved snapshot and rebuilds its branch.
func (a *app) restore(ctx context.Context, name string) (branch.Branch, error) {
	snap, err := a.repo.Load(ctx, name)
	if err != nil {
		return branch.Branch{}, err
	}
	return snapshot.Restore(ctx, snap,
		snapshot.WithLogger(a.logger),
		snapshot.WithStoreFactory(a.storeFactory()),
	)
}

// persist captures b and saves it under name.
func (a *app) persist(ctx context.Context, b branch.Branch, name string) error {
	snap, err := snapshot.Capture(ctx, b, snapshot.WithLogger(a.logger))
	if err != nil {
		return err
	}
	snap.Name = name
	return a.repo.Save(ctx, snap)
}

func newIngestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <branch> <file>...",
		Short: "Embed files paragraph by paragraph into a branch",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			b, err := a.restore(ctx, name)
			if errors.Is(err, core.ErrSnapshotNotFound) {
				store, storeErr := a.storeFactory()()
				if storeErr != nil {
					return storeErr
				}
				b, err = branch.New(name, store), nil
			}
			if err != nil {
				return err
			}

			total := 0
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				vectors, err := a.chunk(ctx, path, string(data))
				if err != nil {
					return err
				}
				if len(vectors) == 0 {
					continue
				}
				if err := b.Store().Add(ctx, vectors...); err != nil {
					return fmt.Errorf("store %s: %w", path, err)
				}
				ids := make([]string, len(vectors))
				for i, v := range vectors {
					ids[i] = v.ID
				}
				b = b.WithIngestEvent(path, ids)
				total += len(vectors)
			}

			if err := a.persist(ctx, b, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks into %s\n", total, name)
			return nil
		},
	}
}

// chunk splits text on blank lines and embeds each paragraph. Chunk IDs are
// keyed by the cleaned path so files sharing a base name stay distinct.
func (a *app) chunk(ctx context.Context, path, text string) ([]core.Vector, error) {
	base := filepath.ToSlash(filepath.Clean(path))
	var vectors []core.Vector
	for _, paragraph := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		embedding, err := a.embedder.Embed(ctx, paragraph)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", path, err)
		}
		index := len(vectors)
		vectors = append(vectors, core.NewVector(
			fmt.Sprintf("%s#%d", base, index),
			paragraph,
			embedding,
			map[string]any{"source": path, "chunk": index},
		))
	}
	return vectors, nil
}

var stepKinds = []string{core.StateKindDraft, core.StateKindCritique, core.StateKindFinal}

func newStepCommand(a *app) *cobra.Command {
	var kind, prompt string
	cmd := &cobra.Command{
		Use:   "step <branch>",
		Short: "Generate one reasoning step and append it to a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(stepKinds, kind) {
				return fmt.Errorf("--kind must be one of %s: %w", strings.Join(stepKinds, ", "), core.ErrInvalidInput)
			}
			ctx := cmd.Context()
			b, err := a.restore(ctx, args[0])
			if err != nil {
				return err
			}

			response, err := a.generator.Generate(ctx, prompt)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			b = b.WithReasoning(core.StateForKind(kind, response), prompt, nil)

			if err := a.persist(ctx, b, b.Name()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s step %d: %s\n", kind, len(b.ReasoningSteps()), preview(response))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", core.StateKindDraft, "step kind: Draft, Critique or Final")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt; may contain {context} and {tools_schemas}")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := a.repo.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEVENTS\tVECTORS\tCAPTURED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.Name, s.Events, s.Vectors, s.CapturedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <branch>",
		Short: "Print a branch's events and vector count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.repo.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "branch %s captured %s\n", snap.Name, snap.CapturedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "vectors: %d\nevents: %d\n", len(snap.Vectors), len(snap.Events))

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for i, event := range snap.Events {
				fmt.Fprintf(w, "%d\t%s\t%s\n", i, event.EventType(), describe(event))
			}
			return w.Flush()
		},
	}
}

func describe(event core.PipelineEvent) string {
	if step, ok := core.AsReasoningStep(event); ok {
		text := ""
		if step.State != nil {
			text = step.State.Text()
		}
		return fmt.Sprintf("%s\t%s (tools: %d)", step.StepKind, preview(text), len(step.ToolCalls))
	}
	switch typed := event.(type) {
	case core.IngestBatch:
		return fmt.Sprintf("%s\t%d ids", typed.Source, len(typed.IDs))
	case core.OpaqueEvent:
		return fmt.Sprintf("-\t%d bytes", len(typed.Payload))
	default:
		return "-\t-"
	}
}

func preview(text string) string {
	const maxRunes = 60
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}

func newReplayCommand(a *app) *cobra.Command {
	var (
		params engine.Params
		out    string
	)
	cmd := &cobra.Command{
		Use:   "replay <branch>",
		Short: "Regenerate a branch's reasoning steps against fresh context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.restore(ctx, args[0])
			if err != nil {
				return err
			}

			registry, err := tools.NewRegistry(tools.StoreTools(b.Store(), a.embedder)...)
			if err != nil {
				return err
			}
			params.Tools = registry

			eng, err := engine.New(a.generator, a.embedder,
				engine.WithLogger(a.logger),
				engine.WithAudit(engine.NewSlogAudit(a.logger)),
				engine.WithStoreFactory(a.storeFactory()),
				engine.WithRetrieverConfig(a.retrieverConfig()),
			)
			if err != nil {
				return err
			}

			result, report, err := eng.ReplayWithReport(ctx, b, params)
			if err != nil {
				return err
			}
			name := firstNonEmpty(out, result.Name())
			if err := a.persist(ctx, result, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d steps into %s (dropped %d events, tools run %d, skipped %d, failed %d)\n",
				report.StepsReplayed, name, report.EventsDropped, report.ToolsExecuted, report.ToolsSkipped, report.ToolErrors)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.Query, "query", "", "retrieval query for {context}")
	cmd.Flags().StringVar(&params.Topic, "topic", "", "label recorded in logs and traces")
	cmd.Flags().IntVar(&params.K, "k", 4, "vectors retrieved for {context}")
	cmd.Flags().StringVar(&out, "out", "", "name of the saved result (default <branch>_replay)")
	return cmd
}

func newMergeCommand(a *app) *cobra.Command {
	var (
		query string
		topK  int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "merge <first> <second>",
		Short: "Merge two branches, keeping the more relevant vector on ID conflicts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			first, err := a.restore(ctx, args[0])
			if err != nil {
				return err
			}
			second, err := a.restore(ctx, args[1])
			if err != nil {
				return err
			}

			mergeFn, err := merge.ByRelevance(a.embedder, topK,
				merge.WithLogger(a.logger),
				merge.WithStoreFactory(a.storeFactory()),
			)
			if err != nil {
				return err
			}
			merged, err := mergeFn(ctx, first, second, query)
			if err != nil {
				return err
			}

			name := firstNonEmpty(out, merged.Name())
			if err := a.persist(ctx, merged, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged into %s (%d events)\n", name, merged.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "query used to resolve conflicting vectors")
	cmd.Flags().IntVar(&topK, "top-k", 1, "candidates kept per conflicting id")
	cmd.Flags().StringVar(&out, "out", "", "name of the saved result (default <first>+<second>)")
	return cmd
}

const (
	formatJSON  = "json"
	formatProto = "proto"
)

// formatFor picks a codec from an explicit flag or the file extension.
func formatFor(flag, path string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(flag))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pb", ".proto", ".binpb":
			format = formatProto
		default:
			format = formatJSON
		}
	}
	if format != formatJSON && format != formatProto {
		return "", fmt.Errorf("unsupported format %q: %w", flag, core.ErrInvalidInput)
	}
	return format, nil
}

func newSaveCommand(a *app) *cobra.Command {
	var format, name string
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save a snapshot file into the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatFor(format, args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var snap snapshot.Snapshot
			if format == formatProto {
				snap, err = snapshot.UnmarshalProto(data)
			} else {
				snap, err = snapshot.UnmarshalJSON(data)
			}
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			if name != "" {
				snap.Name = name
			}

			if err := a.repo.Save(cmd.Context(), snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d events, %d vectors)\n", snap.Name, len(snap.Events), len(snap.Vectors))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or proto (default from extension)")
	cmd.Flags().StringVar(&name, "name", "", "override the snapshot name")
	return cmd
}

func newLoadCommand(a *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "load <branch>",
		Short: "Write a saved snapshot to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatFor(format, out)
			if err != nil {
				return err
			}
			snap, err := a.repo.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var data []byte
			if format == formatProto {
				data, err = snapshot.MarshalProto(snap)
			} else {
				data, err = snapshot.MarshalJSON(snap)
			}
			if err != nil {
				return err
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or proto (default from extension, else json)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <branch>",
		Short: "Delete a saved branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
