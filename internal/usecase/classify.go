package usecase

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"chatppt/internal/domain"
)

// RequirementPrefix heads every requirement string sent to synthesis.
const RequirementPrefix = "需求如下:\n"

var artifactKinds = map[string]domain.ArtifactKind{
	".wav":  domain.ArtifactAudio,
	".flac": domain.ArtifactAudio,
	".mp3":  domain.ArtifactAudio,
	".docx": domain.ArtifactDocument,
	".doc":  domain.ArtifactDocument,
	".jpg":  domain.ArtifactImage,
	".jpeg": domain.ArtifactImage,
	".png":  domain.ArtifactImage,
}

// ClassifyFile maps a file path to its extraction path by extension.
func ClassifyFile(path string) domain.ArtifactKind {
	if kind, ok := artifactKinds[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	return domain.ArtifactUnsupported
}

// ClassifyMessage classifies every file of msg in upload order.
func ClassifyMessage(msg domain.Message) []domain.Artifact {
	out := make([]domain.Artifact, 0, len(msg.Files))
	for _, f := range msg.Files {
		out = append(out, domain.Artifact{Path: f, Kind: ClassifyFile(f)})
	}
	return out
}

// firstDocument returns the first document artifact in upload order.
func firstDocument(artifacts []domain.Artifact) (domain.Artifact, bool) {
	for _, a := range artifacts {
		if a.Kind == domain.ArtifactDocument {
			return a, true
		}
	}
	return domain.Artifact{}, false
}

// BuildRequirement joins fragments under RequirementPrefix.
func BuildRequirement(fragments []string) string {
	return RequirementPrefix + strings.Join(fragments, "\n")
}

// gatherFragments collects typed text followed by audio transcriptions. Image
// and unsupported artifacts are logged and skipped.
func (s *Service) gatherFragments(ctx context.Context, msg domain.Message, artifacts []domain.Artifact) ([]string, error) {
	var fragments []string
	if msg.Text != "" {
		fragments = append(fragments, msg.Text)
	}
	for _, a := range artifacts {
		s.logger.DebugContext(ctx, "uploaded file", slog.String("file", a.Path), slog.String("kind", a.Kind.String()))
		switch a.Kind {
		case domain.ArtifactAudio:
			text, err := s.deps.Transcriber.Transcribe(ctx, a.Path)
			if err != nil {
				return nil, err
			}
			fragments = append(fragments, text)
		case domain.ArtifactImage:
			if _, err := describeImage(ctx, a.Path); err != nil {
				s.logger.InfoContext(ctx, "image artifact skipped", slog.String("file", a.Path), slog.Any("err", err))
			}
		default:
			s.logger.InfoContext(ctx, "unsupported artifact skipped", slog.String("file", a.Path))
		}
	}
	return fragments, nil
}

// describeImage is the extraction path for image uploads.
// TODO: route to a vision-capable chat model once one is wired into Deps.
func describeImage(_ context.Context, path string) (string, error) {
	return "", &notImplementedError{kind: domain.ArtifactImage, path: path}
}

type notImplementedError struct {
	kind domain.ArtifactKind
	path string
}

func (e *notImplementedError) Error() string {
	return "usecase: " + e.kind.String() + " extraction not implemented for " + e.path
}

func (e *notImplementedError) Unwrap() error { return ErrNotImplemented }
