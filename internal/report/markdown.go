// Package report renders stored crash bundles for humans.
package report

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/zjy-dev/fwcrash/internal/artifact"
)

// MarkdownFile is written next to the other bundle files by Save.
const MarkdownFile = "report.md"

// maxInputDump caps how much of the input is hex-dumped.
const maxInputDump = 512

// MarkdownReporter writes a markdown summary into a bundle directory.
type MarkdownReporter struct {
	fs afero.Fs
}

// NewMarkdownReporter creates a new MarkdownReporter.
func NewMarkdownReporter(fs afero.Fs) *MarkdownReporter {
	return &MarkdownReporter{fs: fs}
}

// Save writes the report for b into b.Dir and returns its path. Bundle
// files are never overwritten: an existing report yields os.ErrExist.
func (r *MarkdownReporter) Save(b *artifact.Bundle) (string, error) {
	path := filepath.Join(b.Dir, MarkdownFile)
	f, err := r.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("report %s already exists: %w", path, os.ErrExist)
		}
		return "", fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if _, err := f.WriteString(Markdown(b)); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close report %s: %w", path, err)
	}
	return path, nil
}

// Markdown renders b as a markdown document.
func Markdown(b *artifact.Bundle) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Crash Report: %s\n\n", b.Meta.Reason)
	fmt.Fprintf(&sb, "- **Bundle:** `%s`\n", filepath.Base(b.Dir))
	fmt.Fprintf(&sb, "- **Time:** %s\n", b.Meta.Timestamp)
	fmt.Fprintf(&sb, "- **Process:** %d\n", b.Key.PID)
	fmt.Fprintf(&sb, "- **Input:** %d bytes at `0x%x`\n\n", b.Meta.InputSize, b.Meta.InputAddr)

	sb.WriteString("## Registers\n\n")
	sb.WriteString("```\n")
	sb.WriteString(strings.TrimRight(b.Registers, "\n"))
	sb.WriteString("\n```\n\n")

	sb.WriteString("## Stack Memory\n\n")
	if b.Meta.MemStart == nil || len(b.Memory) == 0 {
		sb.WriteString("Not captured.\n\n")
	} else {
		fmt.Fprintf(&sb, "%d bytes from `0x%x`:\n\n", len(b.Memory), *b.Meta.MemStart)
		sb.WriteString("```\n")
		sb.WriteString(hex.Dump(b.Memory))
		sb.WriteString("```\n\n")
	}

	sb.WriteString("## Input\n\n")
	input := b.Input
	if len(input) > maxInputDump {
		fmt.Fprintf(&sb, "First %d of %d bytes:\n\n", maxInputDump, len(input))
		input = input[:maxInputDump]
	}
	sb.WriteString("```\n")
	sb.WriteString(hex.Dump(input))
	sb.WriteString("```\n")

	return sb.String()
}
