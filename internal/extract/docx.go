package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX extracts .docx files by reading word/document.xml from the
// OOXML archive. Formatting runs are flattened; one line per paragraph.
type DOCX struct{}

// NewDOCX creates the Word document extractor.
func NewDOCX() *DOCX {
	return &DOCX{}
}

func (d *DOCX) Extensions() []string {
	return []string{".docx"}
}

func (d *DOCX) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		return parseDocumentXML(content)
	}
	return "", fmt.Errorf("no word/document.xml in archive")
}

// documentXML mirrors the parts of word/document.xml that carry text.
type documentXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text []struct {
					Content string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}

	var b strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, run := range para.Runs {
			for _, text := range run.Text {
				b.WriteString(text.Content)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
