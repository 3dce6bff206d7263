package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// mindfork://docs — index of internal project documentation.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"mindfork://docs",
			"Project Documentation Index",
			mcplib.WithResourceDescription("Index of internal project documentation (keys, names, categories, summaries)"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDocsIndex,
	)

	// mindfork://docs/{doc_key} — one documentation entry, full content.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"mindfork://docs/{doc_key}",
			"Project Document",
			mcplib.WithTemplateDescription("Full content of one documentation entry"),
			mcplib.WithTemplateMIMEType("text/markdown"),
		),
		s.handleDoc,
	)

	// mindfork://personas — the seeded coach personas.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"mindfork://personas",
			"Coach Personas",
			mcplib.WithResourceDescription("Available AI-coach personas (tone, focus, style rules)"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePersonas,
	)
}

func (s *Server) handleDocsIndex(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	docs, err := s.db.ListProjectDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list docs: %w", err)
	}

	// Index only — content is fetched per document to keep the listing small.
	type entry struct {
		DocKey      string  `json:"doc_key"`
		DocName     string  `json:"doc_name"`
		DocCategory string  `json:"doc_category"`
		Summary     *string `json:"summary,omitempty"`
	}
	index := make([]entry, 0, len(docs))
	for _, d := range docs {
		index = append(index, entry{
			DocKey:      d.DocKey,
			DocName:     d.DocName,
			DocCategory: d.DocCategory,
			Summary:     d.Summary,
		})
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal docs index: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "mindfork://docs",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDoc(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	docKey := strings.TrimPrefix(request.Params.URI, "mindfork://docs/")
	if docKey == "" || strings.Contains(docKey, "/") {
		return nil, fmt.Errorf("mcp: invalid doc URI %q", request.Params.URI)
	}

	doc, err := s.db.GetProjectDoc(ctx, docKey)
	if err != nil {
		return nil, fmt.Errorf("mcp: get doc %q: %w", docKey, err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "text/markdown",
			Text:     doc.Content,
		},
	}, nil
}

func (s *Server) handlePersonas(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	personas, err := s.coachSvc.Personas(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list personas: %w", err)
	}

	data, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal personas: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "mindfork://personas",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
