package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/jrwynneiii/iqtx/source"
)

// FileTableData lists the sample files that can be transmitted. The file of
// the latest run is highlighted.
type FileTableData struct {
	tview.TableContentReadOnly
	mu     sync.RWMutex
	Files  []string
	active string
}

func (f *FileTableData) GetRowCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.Files)
}

func (f *FileTableData) GetColumnCount() int {
	return 1
}

func (f *FileTableData) GetCell(row, column int) *tview.TableCell {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if row < 0 || row >= len(f.Files) {
		return nil
	}
	color := "[lightskyblue]"
	if f.Files[row] == f.active {
		color = "[green]"
	}
	return tview.NewTableCell(fmt.Sprintf("%s%s", color, filepath.Base(f.Files[row])))
}

// Path returns the file on row, or "" if there is none.
func (f *FileTableData) Path(row int) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if row < 0 || row >= len(f.Files) {
		return ""
	}
	return f.Files[row]
}

func (f *FileTableData) SetActive(path string) {
	f.mu.Lock()
	f.active = path
	f.mu.Unlock()
}

// Describe renders what is known about a sample file before it is sent.
// rate is the configured transmit rate.
func Describe(info source.Info, rate float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", info.Path)
	fmt.Fprintf(&b, "Container: %s\n", info.Container)
	fmt.Fprintf(&b, "Format: %s (%d bytes per pair)\n", info.Format, info.Format.PairWidth())
	if info.Size >= 0 {
		fmt.Fprintf(&b, "Size: %d bytes, %d pairs\n", info.Size, info.Pairs())
	} else {
		fmt.Fprintf(&b, "Size: unknown (compressed)\n")
	}
	if info.SampleRate > 0 {
		fmt.Fprintf(&b, "Recorded rate: %d S/s\n", info.SampleRate)
		if rate > 0 && float64(info.SampleRate) != rate {
			fmt.Fprintf(&b, "[yellow]Transmit rate %.0f S/s differs from the recorded rate[-]\n", rate)
		}
	}
	if d := info.Duration(rate); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", d.Round(time.Millisecond))
	}
	if info.Annotation != "" {
		fmt.Fprintf(&b, "Annotation: %q\n", info.Annotation)
	}
	return b.String()
}
