package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

var licenseOnce sync.Once

// PDF extracts .pdf files page by page with UniPDF.
type PDF struct{}

// NewPDF creates the PDF extractor. UniPDF needs a metered license key;
// it is read from UNIDOC_LICENSE_KEY on first use.
func NewPDF() *PDF {
	licenseOnce.Do(func() {
		if key := os.Getenv("UNIDOC_LICENSE_KEY"); key != "" {
			_ = license.SetMeteredKey(key)
		}
	})
	return &PDF{}
}

func (p *PDF) Extensions() []string {
	return []string{".pdf"}
}

func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("count pages: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page, err := reader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}

		if text = strings.TrimSpace(text); text != "" {
			fmt.Fprintf(&b, "Page %d:\n%s\n\n", i, text)
		}
	}

	return strings.TrimSpace(b.String()), nil
}
