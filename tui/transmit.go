package tui

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"

	"github.com/jrwynneiii/iqtx/flow"
	"github.com/jrwynneiii/iqtx/sink"
	"github.com/jrwynneiii/iqtx/source"
)

type TuiConf struct {
	EnableLogOutput bool `json:"enable_log_output" hcl:"enable_log_output"`
	RefreshMs       int  `json:"refresh_ms" hcl:"refresh_ms"`
}

// levelHistory is the number of RMS samples kept for the sparkline.
const levelHistory = 120

var LogOut *tview.TextView

type StatusTableData struct {
	tview.TableContentReadOnly
}

type status struct {
	Stats flow.Stats
	Err   error
}

var (
	current      status
	currentMutex sync.RWMutex
)

func readStatus() status {
	currentMutex.RLock()
	defer currentMutex.RUnlock()
	return current
}

func writeStatus(s status) {
	currentMutex.Lock()
	defer currentMutex.Unlock()
	current = s
}

var statusLabels = []string{
	"State:",
	"Run:",
	"File:",
	"Sink:",
	"Wire format:",
	"Sample rate:",
	"Center freq:",
	"Blocks sent:",
	"Time sent:",
	"Underruns:",
	"Passes:",
	"Last error:",
}

func (s *StatusTableData) GetRowCount() int {
	return len(statusLabels)
}

func (s *StatusTableData) GetColumnCount() int {
	return 2
}

func (s *StatusTableData) GetCell(row, column int) *tview.TableCell {
	if row < 0 || row >= len(statusLabels) {
		return nil
	}
	if column == 0 {
		return tview.NewTableCell(statusLabels[row])
	}
	return tview.NewTableCell(statusValue(readStatus(), row))
}

func stateColor(s flow.State) string {
	switch s {
	case flow.Running:
		return "[green]"
	case flow.Stopping:
		return "[yellow]"
	case flow.Failed:
		return "[red]"
	}
	return "[white]"
}

// statusValue renders the second column of row for st.
func statusValue(st status, row int) string {
	s := st.Stats
	if s.Run == "" && row > 0 {
		return "-"
	}
	switch row {
	case 0:
		return fmt.Sprintf("%s%s", stateColor(s.State), s.State)
	case 1:
		return s.Run
	case 2:
		return s.Config.Path
	case 3:
		return s.Config.Sink
	case 4:
		return s.Config.WireFormat.String()
	case 5:
		return fmt.Sprintf("%.0f S/s", s.Config.SampleRate)
	case 6:
		return fmt.Sprintf("%d Hz", s.Config.CenterFreq)
	case 7:
		return fmt.Sprintf("%d (%d pairs)", s.Blocks, s.Pairs)
	case 8:
		return s.Elapsed().Round(time.Millisecond).String()
	case 9:
		if s.Underruns > 0 {
			return fmt.Sprintf("[red]%d", s.Underruns)
		}
		return "[green]0"
	case 10:
		return fmt.Sprintf("%d", s.Passes)
	case 11:
		if st.Err != nil {
			return fmt.Sprintf("[red]%s", st.Err)
		}
		return "none"
	}
	return "ERROR"
}

// StartTransmitUI runs the transmit screen until the user quits. Enter or s
// sends the selected file with the settings returned by device, x stops the
// run and q stops it and quits.
func StartTransmitUI(ctrl *flow.Controller, files []string, device func(path string) sink.DeviceConfig, tuiConf TuiConf) {
	app := tview.NewApplication()

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	var logMutex sync.Mutex
	LogOut.SetChangedFunc(func() {
		logMutex.Lock()
		LogOut.ScrollToEnd()
		app.Draw()
		logMutex.Unlock()
	})

	LogOut.SetBorder(true).SetTitle("Log Output")
	if tuiConf.EnableLogOutput {
		log.SetOutput(LogOut)
	}

	fileData := &FileTableData{Files: files}
	fileTable := tview.NewTable().SetContent(fileData)
	fileTable.SetSelectable(true, false).SetBorder(false)

	fileBox := tview.NewFlex()
	fileBox.SetDirection(tview.FlexRow)
	fileBox.AddItem(fileTable, 0, 1, true)
	fileBox.SetTitle("Sample Files")
	fileBox.SetBorder(true)

	statusTable := tview.NewTable().SetContent(&StatusTableData{})
	statusTable.SetSelectable(false, false).SetBorder(false)

	statusBox := tview.NewFlex().SetDirection(tview.FlexRow)
	statusBox.AddItem(statusTable, 0, 1, false)
	statusBox.SetBorder(true)
	statusBox.SetTitle("Transmitter Status")

	descBox := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	descBox.SetBorder(true)
	descBox.SetTitle("File Details")

	progress := tvxwidgets.NewPercentageModeGauge()
	progress.SetMaxValue(1000)
	progress.SetBorder(true)
	progress.SetTitle("Pass Progress")

	level := tvxwidgets.NewSparkline()
	level.SetBorder(true)
	level.SetTitle("Block RMS (% full scale)")
	level.SetLineColor(tcell.ColorSteelBlue)
	var levels []float64

	page := tview.NewFlex().SetDirection(tview.FlexColumn)

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(fileBox, 0, 3, true)
	leftCol.AddItem(descBox, 0, 2, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(statusBox, len(statusLabels)+2, 0, false)
	rightCol.AddItem(progress, 3, 0, false)
	rightCol.AddItem(level, 0, 2, false)
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 3, false)
	}
	page.AddItem(leftCol, 0, 2, true)
	page.AddItem(rightCol, 0, 5, false)

	describe := func(path string) {
		descBox.Clear()
		if path == "" {
			return
		}
		cfg := device(path)
		info, err := source.Inspect(path, source.Options{Format: cfg.FileFormat})
		if err != nil {
			fmt.Fprintf(descBox, "[red]%s", err)
			return
		}
		fmt.Fprint(descBox, Describe(info, cfg.SampleRate))
	}
	fileTable.SetSelectionChangedFunc(func(row, column int) {
		describe(fileData.Path(row))
	})

	start := func() {
		row, _ := fileTable.GetSelection()
		path := fileData.Path(row)
		if path == "" {
			return
		}
		// opening a discovered sink can take seconds; keep the UI responsive
		go func() {
			if err := ctrl.Start(path, device(path)); err != nil {
				log.Errorf("Could not start transmission of %s: %v", path, err)
				return
			}
			fileData.SetActive(path)
		}()
	}

	refresh := func() {
		st := ctrl.Stats()
		writeStatus(status{Stats: st, Err: ctrl.Err()})

		if p := st.Progress(); p >= 0 {
			progress.SetValue(int(p * 1000))
		} else {
			progress.SetValue(0)
		}
		if st.State == flow.Running {
			levels = append(levels, st.RMS*100)
			if len(levels) > levelHistory {
				levels = levels[len(levels)-levelHistory:]
			}
			level.SetData(levels)
		}
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			if fileTable.HasFocus() && tuiConf.EnableLogOutput {
				app.SetFocus(LogOut)
			} else {
				app.SetFocus(fileTable)
			}
		case tcell.KeyEnter:
			start()
			return nil
		}
		switch event.Rune() {
		case 's':
			start()
		case 'x':
			go func() {
				if err := ctrl.Stop(); err != nil {
					log.Warnf("Run ended with error: %v", err)
				}
			}()
		case 'q':
			go func() {
				ctrl.Stop()
				app.Stop()
			}()
		}
		return event
	})

	events, unsubscribe := ctrl.Subscribe()
	done := make(chan struct{})

	//Update all data in our UI.
	go func() {
		ticker := time.NewTicker(time.Duration(tuiConf.RefreshMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Kind == flow.EventState && !e.State.Active() {
					log.Infof("Run %s is %s", e.Run, e.State)
				}
				app.QueueUpdateDraw(refresh)
			case <-ticker.C:
				app.QueueUpdateDraw(refresh)
			}
		}
	}()

	refresh()
	if len(files) > 0 {
		describe(files[0])
	}

	// Start the TUI
	err := app.SetRoot(page, true).EnableMouse(false).SetFocus(fileTable).Run()
	close(done)
	unsubscribe()
	if tuiConf.EnableLogOutput {
		log.SetOutput(os.Stderr)
	}
	if err != nil {
		log.Fatalf("Could not start UI: %v", err)
	}
}
