// Package slides parses synthesized markdown into the slide model and maps
// each slide onto a template layout.
package slides

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"chatppt/internal/domain"
)

// ErrParse is returned for content that does not describe a presentation.
var ErrParse = errors.New("slides: cannot parse content")

var (
	imageLine   = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)\s]+)\)$`)
	layoutTag   = regexp.MustCompile(`^(.*?)\s*\[([^\[\]]+)\]$`)
	bulletStart = regexp.MustCompile(`^([-*+]|\d+[.)])\s+`)
)

// Parser reads the markdown deck format:
//
//	# Presentation title
//	## Slide title [Optional Layout Name]
//	- bullet
//	  - nested bullet
//	![caption](images/slide/1.png)
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) ParseSlides(content string, layouts domain.LayoutResolver) (domain.Presentation, error) {
	if layouts == nil {
		return domain.Presentation{}, errors.New("slides: layout resolver must not be nil")
	}

	var (
		pres domain.Presentation
		cur  *domain.Slide
	)
	flush := func() {
		if cur != nil {
			pres.Slides = append(pres.Slides, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := strings.TrimRight(sc.Text(), " \t\r")
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "```"):
			continue
		case strings.HasPrefix(line, "## "):
			flush()
			title, layout := splitLayout(strings.TrimSpace(line[3:]))
			cur = &domain.Slide{Title: title, RequestedLayout: layout}
		case strings.HasPrefix(line, "# "):
			if pres.Title == "" {
				pres.Title = strings.TrimSpace(line[2:])
			}
		case cur == nil:
			// Preamble between the title and the first slide.
		case imageLine.MatchString(line):
			if cur.Image == "" {
				cur.Image = imageLine.FindStringSubmatch(line)[2]
			}
		case strings.HasPrefix(line, "#"):
			cur.Bullets = append(cur.Bullets, domain.Bullet{Text: strings.TrimSpace(strings.TrimLeft(line, "#"))})
		default:
			cur.Bullets = append(cur.Bullets, bullet(raw))
		}
	}
	if err := sc.Err(); err != nil {
		return domain.Presentation{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	flush()

	if pres.Title == "" {
		return domain.Presentation{}, fmt.Errorf("%w: missing presentation title", ErrParse)
	}
	if len(pres.Slides) == 0 {
		return domain.Presentation{}, fmt.Errorf("%w: no slides in %q", ErrParse, pres.Title)
	}
	for i := range pres.Slides {
		layout, err := layouts.ResolveLayout(pres.Slides[i])
		if err != nil {
			return domain.Presentation{}, fmt.Errorf("slides: slide %d: %w", i+1, err)
		}
		pres.Slides[i].Layout = layout
	}
	return pres, nil
}

func splitLayout(heading string) (title, layout string) {
	if m := layoutTag.FindStringSubmatch(heading); m != nil && m[1] != "" {
		return m[1], strings.TrimSpace(m[2])
	}
	return heading, ""
}

// bullet derives the level from leading indentation, two spaces or one tab
// per level. Lines without a marker become top-level text.
func bullet(raw string) domain.Bullet {
	indent := 0
scan:
	for _, r := range raw {
		switch r {
		case ' ':
			indent++
		case '\t':
			indent += 2
		default:
			break scan
		}
	}
	text := strings.TrimSpace(raw)
	if loc := bulletStart.FindStringIndex(text); loc != nil {
		return domain.Bullet{Text: strings.TrimSpace(text[loc[1]:]), Level: indent / 2}
	}
	return domain.Bullet{Text: text}
}
