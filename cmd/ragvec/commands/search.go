package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragvec-go/internal/chunker"
	"github.com/54b3r/ragvec-go/internal/logging"
	"github.com/54b3r/ragvec-go/internal/search"
)

// resultStyles holds the lipgloss styles used for human search output.
type resultStyles struct {
	title    lipgloss.Style
	rank     lipgloss.Style
	distance lipgloss.Style
	id       lipgloss.Style
	text     lipgloss.Style
	meta     lipgloss.Style
	empty    lipgloss.Style
}

func newResultStyles() resultStyles {
	return resultStyles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		rank:     lipgloss.NewStyle().Bold(true),
		distance: lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		id:       lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		text:     lipgloss.NewStyle().PaddingLeft(4),
		meta:     lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("#6C7086")),
		empty:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#F9E2AF")),
	}
}

// snippetLen caps how much of each chunk is printed in human output.
const snippetLen = 240

// NewSearchCmd constructs the `ragvec search` command, which embeds a query
// and prints the nearest stored chunks.
func NewSearchCmd() *cobra.Command {
	var nResults int
	var ingestFrom string
	var chunkSize int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find the stored chunks nearest to a query",
		Long: `Embed the query and return the nearest stored chunks, nearest first.

With --ingest the given path is ingested first (resetting the store), which
is the only way to search the in-memory store from the CLI.

Examples:
  ragvec search "how are chunks identified?"
  ragvec search -n 10 --json "vector stores"
  EMBEDDING_PROVIDER=hash VECTOR_STORE=memory ragvec search --ingest ./docs "overlap"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if !cmd.Flags().Changed("n-results") {
				nResults = getEnvInt("SEARCH_N_RESULTS", search.DefaultNResults)
			}

			emb, err := buildEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			st, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer closeStore(st, log)

			if ingestFrom != "" {
				if !cmd.Flags().Changed("chunk-size") {
					chunkSize = getEnvInt("CHUNK_SIZE", chunker.DefaultChunkSize)
				}
				if _, err := ingestPath(ctx, log, emb, st, ingestFrom, chunkSize, cmd.ErrOrStderr()); err != nil {
					return fmt.Errorf("search: %w", err)
				}
			}

			searcher, err := search.NewSearcher(emb, st, &search.Config{Logger: log})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			res, err := searcher.Search(ctx, args[0], nResults)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				return writeResultJSON(cmd.OutOrStdout(), res)
			}
			renderResult(cmd.OutOrStdout(), newResultStyles(), args[0], res)
			return nil
		},
	}

	cmd.Flags().IntVarP(&nResults, "n-results", "n", search.DefaultNResults, "Number of results to return (overrides SEARCH_N_RESULTS)")
	cmd.Flags().StringVar(&ingestFrom, "ingest", "", "Ingest this file or directory before searching")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkSize, "Chunk size used with --ingest")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")

	return cmd
}

func writeResultJSON(w io.Writer, res *search.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("search: encode result: %w", err)
	}
	return nil
}

// renderResult prints one block per hit: rank, distance, chunk id, a text
// snippet and the metadata sorted by key.
func renderResult(w io.Writer, st resultStyles, query string, res *search.Result) {
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Results for %q (%d)", query, res.Len())))
	if res.Len() == 0 {
		fmt.Fprintln(w, st.empty.Render("no stored chunks"))
		return
	}
	for i := range res.Len() {
		fmt.Fprintf(w, "%s %s  %s\n",
			st.rank.Render(fmt.Sprintf("%2d.", i+1)),
			st.distance.Render(fmt.Sprintf("%.4f", res.Distances[i])),
			st.id.Render(res.IDs[i]),
		)
		fmt.Fprintln(w, st.text.Render(snippet(res.Documents[i])))
		if line := formatMetadata(res.Metadatas[i]); line != "" {
			fmt.Fprintln(w, st.meta.Render(line))
		}
	}
}

// snippet collapses whitespace and truncates s to snippetLen runes.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "..."
}

// formatMetadata renders meta as "k=v" pairs sorted by key.
func formatMetadata(meta map[string]any) string {
	keys := slices.Sorted(maps.Keys(meta))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, " ")
}
