package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter renders a Summary as a Markdown document.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// MarkdownOption configures a MarkdownFormatter.
type MarkdownOption func(*MarkdownFormatter)

// WithTranslator sets the function used to translate labels.
func WithTranslator(fn func(string) string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.translate = fn
	}
}

// WithVersion adds the tool version to the footer.
func WithVersion(version string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.version = version
	}
}

// NewMarkdownFormatter creates a MarkdownFormatter.
func NewMarkdownFormatter(opts ...MarkdownOption) *MarkdownFormatter {
	f := &MarkdownFormatter{
		translate: func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ Formatter = (*MarkdownFormatter)(nil)

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Encode Summary"))
	fmt.Fprintf(&b, "%s: %s\n\n", t("Generated"), s.GeneratedAt.Format(time.RFC3339))

	// Results
	fmt.Fprintf(&b, "## %s\n\n", t("Results"))
	f.tableHeader(&b)
	f.row(&b, "Output", s.Output.Path)
	f.row(&b, "Container", s.Output.Container)
	if s.Output.CodecInfo != "" {
		f.row(&b, "Codec", s.Output.CodecInfo)
	}
	f.row(&b, "Frame Count", fmt.Sprintf("%d", s.Encoding.FrameCount))
	f.row(&b, "Key Frames", fmt.Sprintf("%d", s.Encoding.KeyFrames))
	f.row(&b, "Encoded Size", formatBytes(s.Encoding.EncodedBytes))
	f.row(&b, "Average Frame Size", formatBytes(s.Encoding.AverageFrameBytes()))
	f.row(&b, "File Size", formatBytes(s.Output.FileSize))
	if s.Output.DurationMs > 0 {
		f.row(&b, "Video Duration", fmt.Sprintf("%d ms", s.Output.DurationMs))
		f.row(&b, "Achieved Bitrate", formatBitrate(s.BitrateBps()))
	}
	f.row(&b, "Elapsed", fmt.Sprintf("%d ms", s.Encoding.ElapsedMs))
	b.WriteString("\n")

	// Settings
	fmt.Fprintf(&b, "## %s\n\n", t("Settings"))
	f.tableHeader(&b)
	f.row(&b, "Profile", s.Settings.Profile)
	f.row(&b, "Frame Size", fmt.Sprintf("%dx%d", s.Settings.Width, s.Settings.Height))
	f.row(&b, "Input Format", s.Settings.InputFormat)
	f.row(&b, "Target Bitrate", formatBitrate(int64(s.Settings.Bitrate)))
	f.row(&b, "Framerate", fmt.Sprintf("%d fps", s.Settings.Framerate))
	if s.Settings.KeyFramePeriod > 0 {
		f.row(&b, "Key Frame Period", fmt.Sprintf("%d", s.Settings.KeyFramePeriod))
	} else {
		f.row(&b, "Key Frame Period", t("First frame only"))
	}
	b.WriteString("\n")

	// Counters
	fmt.Fprintf(&b, "## %s\n\n", t("Encoder Counters"))
	f.tableHeader(&b)
	f.row(&b, "Items Queued", fmt.Sprintf("%d", s.Counters.ItemsQueued))
	f.row(&b, "Items Completed", fmt.Sprintf("%d", s.Counters.ItemsCompleted))
	f.row(&b, "Items Aborted", fmt.Sprintf("%d", s.Counters.ItemsAborted))
	f.row(&b, "Drains", fmt.Sprintf("%d", s.Counters.Drains))
	f.row(&b, "Flushes", fmt.Sprintf("%d", s.Counters.Flushes))
	f.row(&b, "Errors", fmt.Sprintf("%d", s.Counters.Errors))
	b.WriteString("\n")

	b.WriteString("---\n\n")
	footer := t("Generated by") + " hwencode"
	if f.version != "" {
		footer += " " + f.version
	}
	b.WriteString(footer + "\n")

	return b.String()
}

func (f *MarkdownFormatter) tableHeader(b *strings.Builder) {
	fmt.Fprintf(b, "| %s | %s |\n", f.translate("Item"), f.translate("Value"))
	b.WriteString("|------|------|\n")
}

func (f *MarkdownFormatter) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", f.translate(label), value)
}

// formatBytes formats a byte count with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}

// formatBitrate formats bits per second with decimal units.
func formatBitrate(bps int64) string {
	switch {
	case bps >= 1_000_000:
		return fmt.Sprintf("%.2f Mbps", float64(bps)/1e6)
	case bps >= 1_000:
		return fmt.Sprintf("%.2f kbps", float64(bps)/1e3)
	default:
		return fmt.Sprintf("%d bps", bps)
	}
}
