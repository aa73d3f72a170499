package render

import (
	"fmt"
	"strings"

	"github.com/g1ibby/llm-deploy/internal/ollama"
)

const progressBarWidth = 50

// PullProgress turns a streamed pull event into a printable line. Layer
// progress lines start with \r so successive updates redraw in place.
func PullProgress(ev ollama.ProgressEvent) string {
	switch {
	case ev.Failed():
		return fmt.Sprintf("\npull failed: %s\n", ev.Err)
	case ev.Success():
		return "\nDownload completed successfully.\n"
	case ev.ManifestStart():
		return "pulling manifest\n"
	case ev.LayerProgress():
		percentage := 0.0
		if ev.Total > 0 {
			percentage = float64(ev.Completed) / float64(ev.Total) * 100
		}
		filled := int(progressBarWidth * percentage / 100)
		bar := "▕" + strings.Repeat("█", filled) + strings.Repeat("-", progressBarWidth-filled) + "▏"
		return fmt.Sprintf("\r %s... %.2f%% %s (%.1f GB/%.1f GB)",
			ev.Status, percentage, bar,
			float64(ev.Completed)/1e9, float64(ev.Total)/1e9,
		)
	default:
		return ""
	}
}
