package cmd

import (
	"fmt"
	"sort"

	"gatekeeper/detect"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// PrefilterReport is the --json output of prefilter
type PrefilterReport struct {
	SnippetID string `json:"snippet_id"`
	Results   []bool `json:"results"`
	Passed    int    `json:"passed"`
}

// newPrefilterCmd creates the 'prefilter' subcommand
func newPrefilterCmd(opts *rootOptions) *cobra.Command {
	var (
		snippetPath string
		snippetID   string
		eventsPath  string
	)

	cmd := &cobra.Command{
		Use:   "prefilter",
		Short: "Gate events through a snippet's pre-filter",
		Long: `Load prefilter snippets from a file or directory and report, per event, whether the
event passes the selected snippet. Events are a JSON array or one JSON object per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snippets, err := detect.LoadSnippets(snippetPath, zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			snippet, err := selectSnippet(detect.IndexSnippets(snippets), snippetID)
			if err != nil {
				return err
			}

			events, err := readEvents(eventsPath)
			if err != nil {
				return err
			}

			results := snippet.PrefilterAll(events)
			report := PrefilterReport{SnippetID: snippet.ID, Results: results}
			for _, passed := range results {
				if passed {
					report.Passed++
				}
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, report)
			}
			renderPrefilterReport(out, report, opts.quiet)
			return nil
		},
	}

	cmd.Flags().StringVar(&snippetPath, "snippet", "", "Snippet file or directory")
	cmd.Flags().StringVar(&snippetID, "id", "", "Snippet id (required when more than one snippet is loaded)")
	cmd.Flags().StringVar(&eventsPath, "events", "", "Events file (JSON array or JSON lines)")
	_ = cmd.MarkFlagRequired("snippet")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func selectSnippet(loaded map[string]*detect.Snippet, id string) (*detect.Snippet, error) {
	if id != "" {
		snippet, ok := loaded[id]
		if !ok {
			return nil, fmt.Errorf("snippet %q not found", id)
		}
		return snippet, nil
	}

	switch len(loaded) {
	case 0:
		return nil, fmt.Errorf("no prefilter snippets found")
	case 1:
		for _, snippet := range loaded {
			return snippet, nil
		}
	}

	ids := make([]string, 0, len(loaded))
	for id := range loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return nil, fmt.Errorf("%d snippets loaded, choose one with --id: %v", len(ids), ids)
}
