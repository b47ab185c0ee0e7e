package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"github.com/lychee-technology/strata/internal/catalog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBootstrapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create missing schema objects and map the entity definitions",
		Example: `  strata-tools bootstrap --dialect sqlite --database app.db --schemas ./schemas
  strata-tools bootstrap --strict-probes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d schema objects were not applied", len(report.Failed))
			}
			return nil
		},
	}
	cmd.Flags().Bool("strict-probes", false, "fail objects whose existence probe errors instead of creating them")
	cmd.Flags().Bool("skip-extras", false, "skip stored procedures and triggers")
	return cmd
}

func newProbeCmd(a *app) *cobra.Command {
	var extras bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report which schema objects exist without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			s, ok := store.(*internal.Store)
			if !ok {
				return fmt.Errorf("store %T cannot probe its schema", store)
			}
			statuses := s.ProbeSchema(ctx, extras)
			missing := 0
			for _, st := range statuses {
				if !st.Exists {
					missing++
				}
			}
			zap.S().Infow("schema probed", "objects", len(statuses), "missing", missing)
			return writeJSON(cmd.OutOrStdout(), statuses)
		},
	}
	cmd.Flags().BoolVar(&extras, "extras", false, "include stored procedures and triggers")
	return cmd
}

func newSaveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save [file...]",
		Short: "Save JSON documents, read from files or stdin",
		Long: `Save reads one document or an array of documents per file ("-" or no file reads stdin),
validates them against the entity schemas and saves them in chunks of store.save_chunk_size.
The documents are printed back with their assigned guids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cat, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				args = []string{"-"}
			}
			var entities []strata.Entity
			for _, name := range args {
				data, err := readInput(cmd.InOrStdin(), name)
				if err != nil {
					return err
				}
				docs, err := parseDocuments(data)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				for _, doc := range docs {
					rec, err := cat.Decode(doc)
					if err != nil {
						return fmt.Errorf("%s: %w", name, err)
					}
					entities = append(entities, rec)
				}
			}

			if err := store.SaveChunked(ctx, entities, a.cfg.Store.Store.SaveChunkSize); err != nil {
				return err
			}
			return writeDocuments(cmd.OutOrStdout(), cat, entities)
		},
	}
	cmd.Flags().Int("chunk-size", 0, "instances per transaction")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var guids []string
	cmd := &cobra.Command{
		Use:   "load <entity>",
		Short: "Load instances of an entity type (and its subtypes) as JSON documents",
		Example: `  strata-tools load person
  strata-tools load person --guid 0190c1c4-5d2e-7a51-8f5e-3f1a8c9e2b10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cat, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entityID, ok := cat.EntityID(args[0])
			if !ok {
				return fmt.Errorf("unknown entity %q", args[0])
			}
			filter := strata.All()
			if len(guids) > 0 {
				filter = strata.ByGuid(guids...)
			}
			loaded, err := store.Load(ctx, entityID, filter)
			if err != nil {
				return err
			}
			return writeDocuments(cmd.OutOrStdout(), cat, loaded)
		},
	}
	cmd.Flags().StringSliceVar(&guids, "guid", nil, "load only these guids")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <guid...>",
		Short: "Delete instances with their attribute and binding rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(ctx, args...); err != nil {
				return err
			}
			zap.S().Infow("instances deleted", "count", len(args))
			return nil
		},
	}
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// parseDocuments accepts a single document or an array of them.
func parseDocuments(data []byte) ([]*catalog.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("parse document list: %w", err)
		}
		docs := make([]*catalog.Document, 0, len(raws))
		for _, raw := range raws {
			doc, err := catalog.ParseDocument(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
	doc, err := catalog.ParseDocument(trimmed)
	if err != nil {
		return nil, err
	}
	return []*catalog.Document{doc}, nil
}

func writeDocuments(w io.Writer, cat *catalog.Catalog, entities []strata.Entity) error {
	docs := make([]*catalog.Document, 0, len(entities))
	for _, e := range entities {
		doc, err := cat.Encode(e)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return writeJSON(w, docs)
}
