package main

import (
	"path/filepath"
	"strings"

	"chatppt/internal/domain"
)

// messageFrom builds the submitted message. File arguments are taken relative
// to the working directory, not the storage root.
func messageFrom(text string, files []string) (domain.Message, error) {
	var kept []string
	for _, f := range files {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			return domain.Message{}, err
		}
		kept = append(kept, filepath.ToSlash(abs))
	}
	return domain.Message{Text: strings.TrimSpace(text), Files: kept}, nil
}
