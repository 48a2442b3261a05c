// Package pipeline wires loaders, the chunker, the embedding client and a
// vector index into the ingest and query flows.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/efebarandurmaz/docrag/internal/config"
	"github.com/efebarandurmaz/docrag/internal/vector"
	"github.com/efebarandurmaz/docrag/internal/vector/chroma"
	"github.com/efebarandurmaz/docrag/internal/vector/local"
	"github.com/efebarandurmaz/docrag/internal/vector/qdrant"
)

// OpenIndex opens the configured index backend. The returned location names
// where the entries live, for reports.
func OpenIndex(ctx context.Context, cfg config.IndexConfig, logger *slog.Logger) (vector.Index, string, error) {
	switch cfg.Backend {
	case "", "local":
		s, err := local.Open(cfg.Dir, local.WithLogger(logger))
		if err != nil {
			return nil, "", err
		}
		return s, s.Dir(), nil
	case "qdrant":
		r, err := qdrant.Open(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, logger)
		if err != nil {
			return nil, "", err
		}
		return r, net.JoinHostPort(cfg.Qdrant.Host, strconv.Itoa(cfg.Qdrant.Port)) + "/" + cfg.Qdrant.Collection, nil
	case "chroma":
		r, err := chroma.Open(ctx, cfg.Chroma.URL, cfg.Chroma.Collection, logger)
		if err != nil {
			return nil, "", err
		}
		return r, cfg.Chroma.URL + "/" + cfg.Chroma.Collection, nil
	default:
		return nil, "", fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
