package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/app"
	"github.com/HanTheDev/multi-tenant-rag/internal/config"
	"github.com/HanTheDev/multi-tenant-rag/internal/logging"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/rag"
)

// withApp builds the backends, runs fn and flushes the event log on the way out.
func withApp(ctx context.Context, fn func(a *app.App) error) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(a)
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the tenant's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		noCache, _ := cmd.Flags().GetBool("no-cache")

		req := models.QueryRequest{
			TenantID:     tenantID,
			Text:         strings.Join(args, " "),
			DisableCache: noCache,
		}
		if topK > 0 {
			req.Overrides = &models.ParamOverrides{TopK: &topK}
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			resp, err := a.Service.Query(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			fmt.Fprintln(out)
			printSources(out, resp.Sources)
			if resp.Metadata.Cached {
				fmt.Fprintln(out, "(cached)")
			}
			if resp.Metadata.PartialFailure {
				fmt.Fprintf(out, "warning: namespaces failed: %s\n", strings.Join(keys(resp.Metadata.FailedNamespaces), ", "))
			}
			return nil
		})
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Show the chunks a query would retrieve",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		req := models.SearchRequest{TenantID: tenantID, Text: strings.Join(args, " "), TopK: topK}

		return withApp(cmd.Context(), func(a *app.App) error {
			resp, err := a.Service.Search(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printSources(cmd.OutOrStdout(), resp.Sources)
			return nil
		})
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector counts per namespace and cache state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			resp, err := a.Service.Stats(cmd.Context(), tenantID)
			if err != nil {
				return describe(err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			for _, ns := range resp.Namespaces {
				owner := "shared"
				if ns.Owned {
					owner = "owned"
				}
				if ns.Error != "" {
					fmt.Fprintf(out, "%-24s %-6s error: %s\n", ns.Namespace, owner, ns.Error)
					continue
				}
				fmt.Fprintf(out, "%-24s %-6s %d vectors\n", ns.Namespace, owner, ns.Vectors)
			}
			fmt.Fprintf(out, "cache: %s hits=%d misses=%d\n", resp.Cache.Backend, resp.Cache.Hits, resp.Cache.Misses)
			return nil
		})
	},
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed documents into the tenant's namespace",
	Long: `Embed documents into the tenant's own namespace.

Examples:
  ragctl ingest -t acme --file docs.json      # [{"id":..,"content":..,"metadata":{..}}]
  ragctl ingest -t acme --id faq-1 --text "Returns are accepted within 30 days"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")
		id, _ := cmd.Flags().GetString("id")

		var docs []rag.Document
		switch {
		case file != "":
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening %s: %w", file, err)
			}
			defer f.Close()
			if docs, err = parseDocuments(f); err != nil {
				return err
			}
		case text != "":
			if id == "" {
				return errors.New("--id is required with --text")
			}
			docs = []rag.Document{{ID: id, Content: text}}
		default:
			return errors.New("one of --file or --text is required")
		}

		return withApp(cmd.Context(), func(a *app.App) error {
			resp, err := a.Service.Ingest(cmd.Context(), tenantID, docs)
			if err != nil {
				return describe(err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d documents into %s\n", resp.Upserted, resp.Namespace)
			return nil
		})
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Remove documents from the tenant's namespace by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			resp, err := a.Service.Delete(cmd.Context(), tenantID, args)
			if err != nil {
				return describe(err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents from %s, cleared %d cached answers\n",
				resp.Deleted, resp.Namespace, resp.CacheCleared)
			return nil
		})
	},
}

func init() {
	queryCmd.Flags().Int("top-k", 0, "override the tenant's top_k")
	queryCmd.Flags().Bool("no-cache", false, "bypass the response cache")
	searchCmd.Flags().Int("top-k", 0, "number of results")
	ingestCmd.Flags().String("file", "", "JSON array of documents")
	ingestCmd.Flags().String("text", "", "content of a single document")
	ingestCmd.Flags().String("id", "", "id of the single document")
}

func parseDocuments(r io.Reader) ([]rag.Document, error) {
	var docs []rag.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents in input")
	}
	return docs, nil
}

func describe(err error) error {
	var e *rag.Error
	if errors.As(err, &e) {
		if e.Kind == rag.KindRateLimited {
			return fmt.Errorf("%s (retry after %s)", e.Message, e.RetryAfter.Round(time.Second))
		}
		return fmt.Errorf("%s: %s", e.Kind, e.Message)
	}
	return err
}

func printSources(w io.Writer, sources []models.SearchResult) {
	for i, s := range sources {
		label := s.Metadata.Source
		if label == "" {
			label = s.ID
		}
		fmt.Fprintf(w, "[%d] %.3f %s/%s\n", i+1, s.Score, s.Namespace, label)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
