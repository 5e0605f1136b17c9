package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/figma"
	"github.com/hazyhaar/designcheck/manifest"
)

// ResolutionError means no step could locate a design node for a block.
type ResolutionError struct {
	Block string
	Story string
	Tried []string
}

func (e *ResolutionError) Error() string {
	target := e.Block
	if e.Story != "" {
		target += " (story " + e.Story + ")"
	}
	return fmt.Sprintf("pipeline: no design node found for %s; tried %s", target, strings.Join(e.Tried, "; "))
}

// Resolve turns the request into elements, in block order. Blocks that
// cannot be resolved are logged and skipped; the returned error is non-nil
// only when nothing resolved at all.
func (p *Pipeline) Resolve(ctx context.Context, req Request) ([]Element, error) {
	if err := p.validateRequest(req); err != nil {
		return nil, err
	}
	cmap, err := config.LoadComponentMap(p.cfg.FigmaURLsPath())
	if err != nil {
		return nil, err
	}
	fileID := p.fileID(req, cmap)
	if fileID == "" {
		return nil, &config.ConfigurationError{
			Field:  "figma.file_id",
			Reason: "design file id unknown; pass --file-id, set figma.file_id or fileId in " + p.cfg.Paths.FigmaURLs,
		}
	}

	var (
		elements []Element
		errs     []error
	)
	for _, block := range req.Blocks {
		found, err := p.resolveBlock(ctx, req, block, fileID, cmap)
		if err != nil {
			p.logger.WarnContext(ctx, "pipeline: block skipped", "block", block, "error", err)
			errs = append(errs, err)
			continue
		}
		elements = append(elements, found...)
	}
	if len(elements) == 0 {
		return nil, errors.Join(errs...)
	}
	return elements, nil
}

func (p *Pipeline) resolveBlock(ctx context.Context, req Request, block, fileID string, cmap *config.ComponentMap) ([]Element, error) {
	if req.NodeID != "" {
		return []Element{{
			Block:  block,
			Story:  p.storyFor(req.Story, req.NodeID),
			NodeID: req.NodeID,
			FileID: fileID,
			Source: SourceExplicit,
		}}, nil
	}

	rerr := &ResolutionError{Block: block, Story: req.Story}

	stories, err := manifest.Scan(p.cfg.BlocksDir(), block)
	switch {
	case err != nil:
		rerr.Tried = append(rerr.Tried, "manifest: "+err.Error())
	case len(stories) == 0:
		rerr.Tried = append(rerr.Tried, "manifest: no stories with a design URL")
	case req.Story != "":
		if s, ok := manifest.Find(stories, req.Story); ok {
			p.logger.InfoContext(ctx, "pipeline: resolved from manifest", "block", block, "story", s.Name, "node_id", s.NodeID)
			return []Element{p.fromStory(block, fileID, s)}, nil
		}
		p.logger.WarnContext(ctx, "pipeline: story not found in manifest",
			"block", block, "story", req.Story, "available", strings.Join(manifest.Names(stories), ", "))
		rerr.Tried = append(rerr.Tried, fmt.Sprintf("manifest: story %q not declared", req.Story))
	default:
		out := make([]Element, 0, len(stories))
		for _, s := range stories {
			out = append(out, p.fromStory(block, fileID, s))
		}
		p.logger.InfoContext(ctx, "pipeline: resolved from manifest", "block", block, "stories", len(out))
		return out, nil
	}

	if nodeID, ok := cmap.Lookup(block); ok {
		p.logger.InfoContext(ctx, "pipeline: resolved from component map", "block", block, "node_id", nodeID)
		return []Element{{
			Block:  block,
			Story:  p.storyFor(req.Story, nodeID),
			NodeID: nodeID,
			FileID: fileID,
			Source: SourceComponentMap,
		}}, nil
	}
	rerr.Tried = append(rerr.Tried, "figma-urls.json: no entry")

	nodeID, err := p.refs.FindComponent(ctx, fileID, block)
	if err != nil {
		rerr.Tried = append(rerr.Tried, "design file search: "+err.Error())
		return nil, rerr
	}
	p.logger.InfoContext(ctx, "pipeline: resolved by design file search", "block", block, "node_id", nodeID)
	return []Element{{
		Block:  block,
		Story:  p.storyFor(req.Story, nodeID),
		NodeID: nodeID,
		FileID: fileID,
		Source: SourceSearch,
	}}, nil
}

func (p *Pipeline) fromStory(block, fileID string, s manifest.Story) Element {
	if s.FileID != "" {
		fileID = s.FileID
	}
	return Element{
		Block:     block,
		Story:     s.Name,
		NodeID:    s.NodeID,
		FileID:    fileID,
		DesignURL: s.URL,
		Source:    SourceManifest,
	}
}

// storyFor picks the story rendered for a node when the manifest did not
// name one: the requested story, then storybook.story_map, then the default.
func (p *Pipeline) storyFor(requested, nodeID string) string {
	if requested != "" {
		return requested
	}
	if s, ok := p.cfg.Storybook.StoryMap[nodeID]; ok && s != "" {
		return s
	}
	return p.cfg.Storybook.DefaultStory
}

// fileID picks the design file: request, then config, then figma-urls.json.
func (p *Pipeline) fileID(req Request, cmap *config.ComponentMap) string {
	switch {
	case req.FileID != "":
		return req.FileID
	case p.cfg.Figma.FileID != "":
		return p.cfg.Figma.FileID
	case cmap != nil:
		return cmap.FileID
	}
	return ""
}

var _ ReferenceSource = (*figma.Client)(nil)
