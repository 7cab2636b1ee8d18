// Package reply turns raw model output into a structured outcome: clean
// client-facing text, resolved image attachments and the handoff signal.
// No second model call is involved.
package reply

import (
	"regexp"
	"strings"

	"tiendabot/internal/images"
)

// HandoffMarker is the literal substring the agent emits to request a human.
// It may appear anywhere in the reply and is never shown to the end user.
const HandoffMarker = "[HANDOFF]"

var (
	imageMarkerRe  = regexp.MustCompile(`(?i)\[IMAGEN:\s*([^\]]+)\]`)
	doubleSpaceRe  = regexp.MustCompile(` {2,}`)
	tripleNewlineRe = regexp.MustCompile(`\n{3,}`)
)

type ImageRef struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type Outcome struct {
	Text             string     `json:"text"`
	Images           []ImageRef `json:"images"`
	UnresolvedImages []string   `json:"unresolved_images"`
	Handoff          bool       `json:"handoff"`
	RawReply         string     `json:"raw_reply"`
}

type Processor struct {
	registry *images.Registry
}

func NewProcessor(registry *images.Registry) *Processor {
	return &Processor{registry: registry}
}

// Process strips [IMAGEN: title] markers (resolving them against the
// registry) and then extracts the [HANDOFF] marker. Image stripping runs
// first since handoff text may reference or follow an image directive.
func (p *Processor) Process(rawReply string) (*Outcome, error) {
	out := &Outcome{
		Text:     rawReply,
		RawReply: rawReply,
	}

	matches := imageMarkerRe.FindAllStringSubmatch(rawReply, -1)
	if len(matches) > 0 {
		seen := make(map[string]struct{})
		for _, m := range matches {
			title := strings.TrimSpace(m[1])
			entry, err := p.registry.ResolveTitle(title)
			if err != nil {
				return nil, err
			}
			if entry == nil {
				out.UnresolvedImages = append(out.UnresolvedImages, title)
				continue
			}
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			seen[entry.ID] = struct{}{}
			out.Images = append(out.Images, ImageRef{
				Title:    entry.Title,
				URL:      p.registry.URL(entry),
				Filename: entry.Filename,
			})
		}

		clean := imageMarkerRe.ReplaceAllString(rawReply, "")
		clean = doubleSpaceRe.ReplaceAllString(clean, " ")
		clean = tripleNewlineRe.ReplaceAllString(clean, "\n\n")
		out.Text = strings.TrimSpace(clean)
	}

	out.Text, out.Handoff = extractHandoff(out.Text)
	return out, nil
}

// extractHandoff returns the client-facing text and whether the marker was
// present. Text before the marker is the reply; when that prefix is empty the
// text after the marker is used instead.
func extractHandoff(text string) (string, bool) {
	idx := strings.Index(text, HandoffMarker)
	if idx < 0 {
		return text, false
	}
	before := strings.TrimSpace(text[:idx])
	after := strings.TrimSpace(text[idx+len(HandoffMarker):])
	if before == "" {
		return after, true
	}
	return before, true
}
