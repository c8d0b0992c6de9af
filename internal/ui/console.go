package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/pintubhai440/fileshare/internal/engine"
	"github.com/pintubhai440/fileshare/internal/history"
	"github.com/pintubhai440/fileshare/pkg/utils"
)

// ConsoleUI renders transfer progress bars and summaries on a terminal
type ConsoleUI struct {
	out       io.Writer // summaries and messages
	barOut    io.Writer // progress bars
	in        io.Reader
	operation string // "Sending" or "Receiving"

	mu   sync.Mutex
	bars map[uuid.UUID]*progressbar.ProgressBar
}

// NewConsoleUI creates a console UI writing to stdout and stderr
func NewConsoleUI(operation string) *ConsoleUI {
	return NewConsoleUIWithIO(operation, os.Stdin, os.Stdout, os.Stderr)
}

// NewConsoleUIWithIO creates a console UI on the given streams
func NewConsoleUIWithIO(operation string, in io.Reader, out, barOut io.Writer) *ConsoleUI {
	return &ConsoleUI{
		out:       out,
		barOut:    barOut,
		in:        in,
		operation: operation,
		bars:      make(map[uuid.UUID]*progressbar.ProgressBar),
	}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	fmt.Fprintln(c.out, message)
}

// InputCode prompts for the session code until a valid one is entered
func (c *ConsoleUI) InputCode(ctx context.Context) (string, error) {
	return utils.ReadCode(ctx, c.in, c.out)
}

// Progress updates the bar of the session p belongs to. It is called from the
// transfer loop and must not block.
func (c *ConsoleUI) Progress(p engine.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bar, ok := c.bars[p.SessionID]
	if !ok {
		bar = c.newBar(p.Descriptor.Name, int64(p.Sample.Total))
		c.bars[p.SessionID] = bar
	}

	_ = bar.Set64(int64(p.Sample.Bytes))
	bar.Describe(fmt.Sprintf("%s %s (%s/%s, %s)",
		c.operation, p.Descriptor.Name,
		utils.FormatFileSize(int64(p.Sample.Bytes)),
		utils.FormatFileSize(int64(p.Sample.Total)),
		utils.FormatThroughput(p.Sample.Throughput)))

	if p.Sample.Done {
		_ = bar.Finish()
		delete(c.bars, p.SessionID)
	}
}

func (c *ConsoleUI) newBar(name string, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", c.operation, name)),
		progressbar.OptionSetWriter(c.barOut),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// dropBar discards the bar of a session that ended without a final sample
func (c *ConsoleUI) dropBar(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bar, ok := c.bars[id]; ok {
		_ = bar.Exit()
		delete(c.bars, id)
	}
}

// Sent prints the outcome of one outbound file
func (c *ConsoleUI) Sent(r engine.Result) {
	c.dropBar(r.SessionID)
	if r.Err != nil {
		fmt.Fprintf(c.out, "Failed to send %s: %v\n", r.Descriptor.Name, r.Err)
		return
	}
	c.summary("sent", r.Descriptor.Name, r.Bytes, r.Elapsed, r.PeakThroughput, "")
}

// Received prints the outcome of one inbound file
func (c *ConsoleUI) Received(r engine.Received) {
	c.dropBar(r.SessionID)
	if r.Err != nil {
		fmt.Fprintf(c.out, "Failed to receive %s: %v\n", r.Descriptor.Name, r.Err)
		return
	}
	note := ""
	if r.Degraded {
		note = "disk failed mid-transfer, recovered from memory"
	}
	c.summary("received", r.Descriptor.Name, r.Bytes, r.Elapsed, r.PeakThroughput, note)
	if r.Location != "" {
		fmt.Fprintf(c.out, "+ Saved to: %s\n", r.Location)
	}
}

func (c *ConsoleUI) summary(verb, name string, bytes uint64, elapsed time.Duration, peak float64, note string) {
	avg := 0.0
	if elapsed > 0 {
		avg = float64(bytes) / elapsed.Seconds()
	}
	fmt.Fprintf(c.out, "\n=============================================\n")
	fmt.Fprintf(c.out, "File %s %s successfully!\n", name, verb)
	fmt.Fprintf(c.out, "+ Total bytes %s: %s\n", verb, utils.FormatFileSize(int64(bytes)))
	fmt.Fprintf(c.out, "+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(c.out, "+ Average throughput: %s\n", utils.FormatThroughput(avg))
	fmt.Fprintf(c.out, "+ Peak throughput: %s\n", utils.FormatThroughput(peak))
	if note != "" {
		fmt.Fprintf(c.out, "+ Note: %s\n", note)
	}
	fmt.Fprintf(c.out, "=============================================\n")
}

// History prints stored transfer records, newest first
func (c *ConsoleUI) History(records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No transfers recorded yet.")
		return
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-8s %-9s %s  %s/%s",
			r.FinishedAt.Local().Format(time.DateTime), r.Direction, r.Status, r.Name,
			utils.FormatFileSize(int64(r.Bytes)), utils.FormatFileSize(int64(r.Size)))
		if r.Mode != "" {
			line += "  " + r.Mode
		}
		if r.Error != "" {
			line += "  error: " + r.Error
		}
		fmt.Fprintln(c.out, line)
	}
}
