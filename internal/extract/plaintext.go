package extract

import (
	"context"
	"os"
)

// PlainText extracts .txt files verbatim.
type PlainText struct{}

// NewPlainText creates the plain-text extractor.
func NewPlainText() *PlainText {
	return &PlainText{}
}

func (p *PlainText) Extensions() []string {
	return []string{".txt"}
}

func (p *PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
