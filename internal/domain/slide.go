package domain

// Presentation is the slide model parsed from synthesized content.
type Presentation struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

// Slide is one page of a presentation.
type Slide struct {
	Title   string   `json:"title"`
	Layout  Layout   `json:"layout"`
	Bullets []Bullet `json:"bullets,omitempty"`
	Image   string   `json:"image,omitempty"`

	// RequestedLayout is the layout name written in the content, if any.
	RequestedLayout string `json:"-"`
}

// Bullet is a content line; Level 0 is top level.
type Bullet struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

// Layout references a slide layout of the presentation template.
type Layout struct {
	Name  string `json:"name" yaml:"name"`
	Index int    `json:"index" yaml:"index"`
}

// LayoutResolver picks the template layout for a slide.
type LayoutResolver interface {
	ResolveLayout(slide Slide) (Layout, error)
}
