package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"gatekeeper/config"
	"gatekeeper/detect"

	"go.uber.org/zap"
)

// DetectionComponents holds the evaluators served by the API
type DetectionComponents struct {
	Cache  *detect.SnippetCache
	Loaded map[string]*detect.Snippet
	Batch  *detect.BatchInterpreter
}

// InitDetection creates the snippet cache, preloads snippets.path and sizes the batch pool.
// A configured snippets path that does not exist is an error; an empty path loads nothing.
func InitDetection(cfg *config.Config, sugar *zap.SugaredLogger) (*DetectionComponents, error) {
	cache, err := detect.NewSnippetCache(cfg.Snippets.CacheSize)
	if err != nil {
		return nil, err
	}

	components := &DetectionComponents{
		Cache:  cache,
		Loaded: map[string]*detect.Snippet{},
		Batch:  detect.NewBatchInterpreter(cfg.Batch.Workers, sugar),
	}

	if cfg.Snippets.Path != "" {
		snippets, err := detect.LoadSnippets(cfg.Snippets.Path, sugar)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("snippets.path %s does not exist", cfg.Snippets.Path)
			}
			return nil, fmt.Errorf("failed to load snippets: %w", err)
		}
		components.Loaded = detect.IndexSnippets(snippets)
	} else {
		sugar.Info("No snippets.path configured, serving ad-hoc snippets only")
	}

	sugar.Infow("Detection components ready",
		"snippets_loaded", len(components.Loaded),
		"cache_size", cfg.Snippets.CacheSize,
		"batch_workers", components.Batch.Workers())
	return components, nil
}
