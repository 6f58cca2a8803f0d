package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"subsync/pkg/file"
)

// ArtifactPath returns the subtitle output path for a media file and
// language, e.g. "/media/ep01.mkv" + "de" -> "/media/ep01.de.srt".
func ArtifactPath(mediaPath, lang string) string {
	return file.ReplaceExt(mediaPath, lang+".srt")
}

// WriteFile renders a track as SRT at the given path. The file is written
// whole; a partially written artifact is never left behind on error.
func WriteFile(path string, track *Track) error {
	if track == nil {
		return fmt.Errorf("subtitle track is empty")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := Write(f, track); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Write renders a track as SRT. Cues are numbered 1..N regardless of the
// segment indices.
func Write(w io.Writer, track *Track) error {
	bw := bufio.NewWriter(w)

	for i, seg := range track.Segments {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", formatDuration(seg.Start), formatDuration(seg.End))
		fmt.Fprintf(bw, "%s\n\n", seg.Text)
	}

	return bw.Flush()
}

// formatDuration formats time.Duration in SRT time format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
