package domain

// Message is one user submission: optional typed text plus uploaded files in
// upload order.
type Message struct {
	Text  string   `json:"text,omitempty"`
	Files []string `json:"files,omitempty"`
}

// ArtifactKind is the extraction path chosen for an uploaded file.
type ArtifactKind int

const (
	ArtifactUnsupported ArtifactKind = iota
	ArtifactAudio
	ArtifactDocument
	// ArtifactImage is recognised but has no extraction path yet.
	ArtifactImage
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactAudio:
		return "audio"
	case ArtifactDocument:
		return "document"
	case ArtifactImage:
		return "image"
	default:
		return "unsupported"
	}
}

// Artifact is an uploaded file together with its classification.
type Artifact struct {
	Path string
	Kind ArtifactKind
}
