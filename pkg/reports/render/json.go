package render

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSONRenderer emits the RFC 8785 canonical JSON rendition. Two
// documents with equal content always produce byte-identical output,
// so rendition checksums are stable across regenerations.
type JSONRenderer struct{}

func (JSONRenderer) Render(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report document: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report document: %w", err)
	}
	return canonical, nil
}
