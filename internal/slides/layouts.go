package slides

import (
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"chatppt/internal/domain"
	"chatppt/internal/usecase"
)

// Group classifies slides by the content they carry.
type Group string

const (
	GroupTitleOnly           Group = "title_only"
	GroupTitleContent        Group = "title_content"
	GroupTitlePicture        Group = "title_picture"
	GroupTitleContentPicture Group = "title_content_picture"
)

//go:embed default_layouts.yaml
var defaultLayouts []byte

type layoutFile struct {
	TitleOnly           []domain.Layout `yaml:"title_only"`
	TitleContent        []domain.Layout `yaml:"title_content"`
	TitlePicture        []domain.Layout `yaml:"title_picture"`
	TitleContentPicture []domain.Layout `yaml:"title_content_picture"`
}

// Layouts maps slides onto template layouts. It is immutable after loading
// and safe for concurrent use.
type Layouts struct {
	groups map[Group][]domain.Layout
	byName map[string]domain.Layout
}

// DefaultLayouts returns the mapping for the bundled template.
func DefaultLayouts() (*Layouts, error) {
	return ParseLayouts(defaultLayouts)
}

// LoadLayouts reads a layout mapping file. An empty path selects the
// bundled mapping.
func LoadLayouts(path string) (*Layouts, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultLayouts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("slides: read layouts: %w", err)
	}
	return ParseLayouts(data)
}

// ParseLayouts decodes a YAML layout mapping. Unknown group keys, unnamed
// layouts and a name bound to two different indexes are rejected.
func ParseLayouts(data []byte) (*Layouts, error) {
	var f layoutFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("slides: decode layouts: %w", err)
	}
	l := &Layouts{
		groups: map[Group][]domain.Layout{
			GroupTitleOnly:           f.TitleOnly,
			GroupTitleContent:        f.TitleContent,
			GroupTitlePicture:        f.TitlePicture,
			GroupTitleContentPicture: f.TitleContentPicture,
		},
		byName: make(map[string]domain.Layout),
	}
	for group, layouts := range l.groups {
		for _, layout := range layouts {
			if strings.TrimSpace(layout.Name) == "" {
				return nil, fmt.Errorf("slides: layout without name in %s", group)
			}
			if layout.Index < 0 {
				return nil, fmt.Errorf("slides: layout %q has negative index", layout.Name)
			}
			if prev, ok := l.byName[layout.Name]; ok && prev.Index != layout.Index {
				return nil, fmt.Errorf("slides: layout %q bound to indexes %d and %d", layout.Name, prev.Index, layout.Index)
			}
			l.byName[layout.Name] = layout
		}
	}
	if len(l.byName) == 0 {
		return nil, errors.New("slides: layout mapping is empty")
	}
	return l, nil
}

// GroupOf reports which group a slide belongs to.
func GroupOf(slide domain.Slide) Group {
	hasContent := len(slide.Bullets) > 0
	hasPicture := slide.Image != ""
	switch {
	case hasContent && hasPicture:
		return GroupTitleContentPicture
	case hasPicture:
		return GroupTitlePicture
	case hasContent:
		return GroupTitleContent
	default:
		return GroupTitleOnly
	}
}

// ResolveLayout honours an explicitly requested layout name and otherwise
// picks within the slide's group by hashing its title, so the same slide
// always gets the same layout.
func (l *Layouts) ResolveLayout(slide domain.Slide) (domain.Layout, error) {
	if name := strings.TrimSpace(slide.RequestedLayout); name != "" {
		layout, ok := l.byName[name]
		if !ok {
			return domain.Layout{}, fmt.Errorf("%w: unknown layout %q for slide %q", usecase.ErrConfiguration, name, slide.Title)
		}
		return layout, nil
	}
	group := GroupOf(slide)
	candidates := l.groups[group]
	if len(candidates) == 0 {
		return domain.Layout{}, fmt.Errorf("%w: no layouts for group %s", usecase.ErrConfiguration, group)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(slide.Title))
	return candidates[h.Sum32()%uint32(len(candidates))], nil
}
