// Package pdf assembles payment booklets from individual collection slips.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

type Merger struct {
	conf *model.Configuration
}

func NewMerger() *Merger {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &Merger{conf: conf}
}

// Merge concatenates the documents into one file, preserving order.
func (m *Merger) Merge(ctx context.Context, documents [][]byte) ([]byte, error) {
	if len(documents) == 0 {
		return nil, fmt.Errorf("Merger - Merge: no documents")
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("Merger - Merge: %w", err)
	}

	readers := make([]io.ReadSeeker, 0, len(documents))
	for _, doc := range documents {
		readers = append(readers, bytes.NewReader(doc))
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, m.conf); err != nil {
		return nil, fmt.Errorf("Merger - Merge - api.MergeRaw: %w", err)
	}

	return out.Bytes(), nil
}
