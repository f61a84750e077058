package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// keiro://matrix — the full source x target reliability matrix.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"keiro://matrix",
			"Reliability Matrix",
			mcplib.WithResourceDescription("Reliability scores for every observed source-target route"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMatrixResource,
	)

	// keiro://stats — aggregate numbers over all recorded outcomes.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"keiro://stats",
			"Engine Stats",
			mcplib.WithResourceDescription("Aggregate outcome counts and averages across all routes"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	// keiro://source/{id}/targets — one source's routing table.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"keiro://source/{id}/targets",
			"Source Routing Table",
			mcplib.WithTemplateDescription("Every observed target for a source, with score and basis"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleSourceTargets,
	)
}

func (s *Server) handleMatrixResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	matrix := s.engine.Matrix(nil, nil)

	data, err := json.MarshalIndent(matrix, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal matrix: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "keiro://matrix",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStatsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	st := s.engine.Stats("", "")

	data, err := json.MarshalIndent(compactStats(st), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal stats: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "keiro://stats",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseSourceTargetsURI extracts the source id from a
// keiro://source/{id}/targets URI.
func parseSourceTargetsURI(uri string) (string, error) {
	const (
		prefix = "keiro://source/"
		suffix = "/targets"
	)
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return "", fmt.Errorf("mcp: invalid source targets URI: %s", uri)
	}
	source := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	if source == "" {
		return "", fmt.Errorf("mcp: empty source in targets URI: %s", uri)
	}
	return source, nil
}

func (s *Server) handleSourceTargets(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	source, err := parseSourceTargetsURI(uri)
	if err != nil {
		return nil, err
	}

	targets := s.engine.ObservedTargets(source)
	routes := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		score, basis := s.engine.Evaluate(source, target)
		routes = append(routes, map[string]any{
			"target":      target,
			"reliability": score,
			"basis":       basis.String(),
			"records":     s.engine.PairRecords(source, target),
		})
	}

	data, err := json.MarshalIndent(map[string]any{
		"source":  source,
		"targets": routes,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal source targets: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
