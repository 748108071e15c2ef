// Package chat is the interactive front end. Every input line lands in one
// executor and is screened in order: command, typed file path, plain
// message. Typed paths are ingested synchronously; everything else is also
// forwarded to the drag engine, which watches the raw stream for gesture
// sequences and paste blocks off the prompt goroutine.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"parley/internal/attach"
	"parley/internal/drag"
	"parley/internal/fetch"
	"parley/internal/ledger"
	"parley/internal/logging"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":attach", Description: "ingest one or more files by path"},
	{Text: ":paste", Description: "ingest the clipboard contents"},
	{Text: ":fetch", Description: "download a page and attach it as markdown"},
	{Text: ":attachments", Description: "list registered attachments"},
	{Text: ":ls", Description: "list registered attachments"},
	{Text: ":remove", Description: "drop one attachment (:remove <id>)"},
	{Text: ":clear", Description: "drop every attachment"},
	{Text: ":stats", Description: "show registry totals"},
	{Text: ":journal", Description: "show recent ingestion outcomes (:journal [n])"},
	{Text: ":help", Description: "show this text"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// JournalReader serves the :journal and :stats commands. *ledger.Ledger
// satisfies it; a nil reader disables both views.
type JournalReader interface {
	Recent(limit int) ([]ledger.Entry, error)
	Totals() (map[string]int, error)
}

// Options carries the optional collaborators of the prompt loop.
type Options struct {
	Fetcher      *fetch.Fetcher
	Journal      JournalReader
	HistoryPath  string
	HistoryLimit int
	Logger       *log.Logger
}

// Chat wires the prompt loop to the ingestion pipeline.
type Chat struct {
	coord        *attach.Coordinator
	fetcher      *fetch.Fetcher
	journal      JournalReader
	historyPath  string
	historyLimit int
	logger       *log.Logger
	isTTY        bool
	render       *glamour.TermRenderer

	outMu sync.Mutex
	out   io.Writer
}

// New returns a Chat ready for the REPL loop. Markdown rendering is only
// enabled when stdout is a terminal.
func New(coord *attach.Coordinator, opts Options) *Chat {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var renderer *glamour.TermRenderer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}

	return &Chat{
		coord:        coord,
		fetcher:      opts.Fetcher,
		journal:      opts.Journal,
		historyPath:  opts.HistoryPath,
		historyLimit: opts.HistoryLimit,
		logger:       logger,
		isTTY:        term.IsTerminal(int(os.Stdin.Fd())),
		render:       renderer,
		out:          os.Stdout,
	}
}

// Run starts the prompt and blocks until the session finishes.
func (c *Chat) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newInterruptTracker(2 * time.Second)
	if c.isTTY {
		return c.runPrompt(ctx, cancel, tracker)
	}
	go c.handleInterrupts(ctx, cancel, tracker)
	return c.runNonInteractive(ctx, cancel)
}

func (c *Chat) banner() {
	fmt.Println("👋 Welcome to Parley! Drop a file on this window, paste, or type a path to attach it.")
	fmt.Println("Type ':help' for commands. Use double Ctrl+C to exit.")
}

func (c *Chat) promptPrefix() string {
	st := c.coord.Stats()
	if st.Count == 0 {
		return "> "
	}
	return fmt.Sprintf("[%d att %s] > ", st.Count, formatBytes(st.TotalSize))
}

func (c *Chat) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	c.banner()

	history := loadInputHistory(c.historyPath, c.historyLimit)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		if strings.TrimSpace(in) == "" {
			return
		}
		history.Add(in)
		if exit := c.handleLine(ctx, in); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		c.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Parley"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return c.promptPrefix(), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if tracker.secondPress() {
						fmt.Println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (c *Chat) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (c *Chat) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(os.Stdin)

	c.banner()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print(c.promptPrefix())

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := c.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
	}
}

func (c *Chat) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if tracker.secondPress() {
				fmt.Println("\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

// handleLine classifies one executor line. The returned bool requests exit.
func (c *Chat) handleLine(ctx context.Context, input string) bool {
	line := strings.TrimSpace(input)
	if line == "" {
		return false
	}

	if strings.HasPrefix(line, ":") {
		return c.handleCommand(ctx, line)
	}

	// Most terminal emulators deliver a dropped file as its typed path. A
	// line that is nothing but existing paths is ingested in place of being
	// echoed, and is not re-offered to the drag engine.
	if paths, remainder := drag.ExtractPaths(input); len(paths) > 0 && remainder == "" {
		c.ingestTypedPaths(ctx, paths)
		return false
	}

	// Anything else may still carry drop fragments the line editor did not
	// consume (gesture sequences, paste blocks, embedded paths); the drag
	// engine screens those asynchronously.
	c.coord.SubmitRawTerminalBytes([]byte(input + "\n"))

	c.sendMessage(line)
	return false
}

// sendMessage echoes a plain chat line and consumes the pending attachment
// set as its payload, resetting the tray for the next message.
func (c *Chat) sendMessage(text string) {
	c.printMarkdown(text)

	atts := c.coord.List()
	if len(atts) == 0 {
		return
	}
	names := make([]string, 0, len(atts))
	for _, att := range atts {
		names = append(names, att.Filename)
	}
	c.printf("(message includes %d attachment(s): %s)\n", len(atts), strings.Join(names, ", "))
	c.coord.Clear()
	logging.DevLog("message consumed %d attachments", len(atts))
}

func (c *Chat) ingestTypedPaths(ctx context.Context, paths []string) {
	for _, path := range paths {
		att, err := c.coord.SubmitFilePath(ctx, path)
		if err != nil {
			if attach.RejectionType(err) == attach.ErrorTypeAlreadyRegistered {
				c.printf("Already attached: %s\n", filepath.Base(path))
				continue
			}
			c.printf("Could not attach %s: %v\n", filepath.Base(path), err)
			continue
		}
		c.printf("Attached %s (%s, %s) as %s\n", att.Filename, att.MimeType, formatBytes(att.SizeBytes), att.ID)
	}
}

func (c *Chat) handleCommand(ctx context.Context, cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		c.printf(`Commands:
  :attach <path> ... ingest one or more files by path
  :paste             ingest the clipboard (image, file paths, or text)
  :fetch <url>       download a page and attach it as markdown
  :attachments, :ls  list registered attachments
  :remove <id>       drop one attachment
  :clear             drop every attachment
  :stats             registry totals
  :journal [n]       recent ingestion outcomes (default 20)
  :quit, :exit       exit the program
Dropped files, pasted file paths, and typed paths attach automatically.
`)
	case ":attach":
		if len(parts) < 2 {
			c.printf(":attach requires at least one path\n")
			return false
		}
		c.ingestTypedPaths(ctx, parts[1:])
	case ":paste":
		atts, text, err := c.coord.SubmitFromClipboard(ctx)
		for _, att := range atts {
			c.printf("Attached %s (%s, %s) as %s\n", att.Filename, att.MimeType, formatBytes(att.SizeBytes), att.ID)
		}
		if err != nil {
			c.printf("Clipboard ingestion failed: %v\n", err)
		}
		if text != "" {
			c.printf("Clipboard holds plain text (%d chars), nothing to attach:\n", len(text))
			c.printMarkdown(previewText(text))
		}
		if len(atts) == 0 && err == nil && text == "" {
			c.printf("Clipboard is empty.\n")
		}
	case ":fetch":
		if len(parts) < 2 {
			c.printf(":fetch requires a URL\n")
			return false
		}
		if c.fetcher == nil {
			c.printf("Page fetching is not available this run.\n")
			return false
		}
		page, err := c.fetcher.Fetch(ctx, parts[1])
		if err != nil {
			c.printf("Fetch failed: %v\n", err)
			return false
		}
		body := []byte(page.Markdown())
		att, err := c.coord.SubmitBuffer(body, page.SuggestedFilename(), "text/markdown", attach.Source{
			Origin:       attach.OriginUpload,
			OriginalPath: page.URL,
			ObservedAt:   time.Now(),
		})
		if err != nil {
			c.printf("Could not attach fetched page: %v\n", err)
			return false
		}
		c.printf("Fetched %s (%s downloaded) and attached %s as %s\n",
			page.URL, formatBytes(int64(page.Bytes)), att.Filename, att.ID)
	case ":attachments", ":ls":
		atts := c.coord.List()
		if len(atts) == 0 {
			c.printf("No attachments.\n")
			return false
		}
		for _, att := range atts {
			origin := string(att.Source.Origin)
			c.printf("  %-8s %s (%s, %s) [%s]\n", att.ID, att.Filename, att.MimeType, formatBytes(att.SizeBytes), origin)
		}
		st := c.coord.Stats()
		c.printf("Total: %d attachment(s), %s\n", st.Count, formatBytes(st.TotalSize))
	case ":remove":
		if len(parts) < 2 {
			c.printf(":remove requires an attachment id (see :ls)\n")
			return false
		}
		att, err := c.coord.Remove(parts[1])
		if err != nil {
			c.printf("Remove failed: %v\n", err)
			return false
		}
		c.printf("Removed %s (%s)\n", att.ID, att.Filename)
	case ":clear":
		n := c.coord.Clear()
		c.printf("Removed %d attachment(s).\n", n)
	case ":stats":
		st := c.coord.Stats()
		c.printf("Attachments: %d (%d file(s), %d image(s)) totaling %s; %d temp file(s)\n",
			st.Count, st.FileCount, st.ImageCount, formatBytes(st.TotalSize), st.TempFileCount)
		if c.journal != nil {
			totals, err := c.journal.Totals()
			if err != nil {
				c.printf("Ledger totals unavailable: %v\n", err)
				return false
			}
			c.printf("This run: %d registered, %d rejected, %d removed, %d cleared\n",
				totals[attach.OutcomeRegistered], totals[attach.OutcomeRejected],
				totals[attach.OutcomeRemoved], totals[attach.OutcomeCleared])
		}
	case ":journal":
		if c.journal == nil {
			c.printf("No ingestion ledger is available this run.\n")
			return false
		}
		limit := 20
		if len(parts) >= 2 {
			val, err := strconv.Atoi(parts[1])
			if err != nil || val <= 0 {
				c.printf(":journal expects a positive integer limit (e.g. :journal 50).\n")
				return false
			}
			limit = val
		}
		entries, err := c.journal.Recent(limit)
		if err != nil {
			c.printf("Ledger read failed: %v\n", err)
			return false
		}
		if len(entries) == 0 {
			c.printf("The ledger is empty.\n")
			return false
		}
		for _, e := range entries {
			detail := e.Detail
			if detail != "" {
				detail = "  " + detail
			}
			c.printf("%s  %-10s  %-14s  %s (%s)%s\n",
				e.At.Format("15:04:05"), e.Outcome, e.Origin, e.Filename, formatBytes(e.SizeBytes), detail)
		}
	case ":quit", ":exit":
		c.printf("Exiting per user request.\n")
		return true
	default:
		c.printf("Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

// OnPipelineEvent prints pipeline activity that did not originate from a
// typed command. Drag sessions run entirely off the prompt goroutine, so
// their outcomes surface here; command-driven submissions print inline and
// stay quiet.
func (c *Chat) OnPipelineEvent(event string, data any) {
	switch event {
	case attach.EventAttachmentAdded:
		att, ok := data.(*attach.Attachment)
		if !ok || att.Source.Origin != attach.OriginDrag {
			return
		}
		c.printf("\n(drop) attached %s (%s, %s) as %s\n",
			att.Filename, att.MimeType, formatBytes(att.SizeBytes), att.ID)
	case attach.EventDragSessionCompleted:
		fields, ok := data.(map[string]any)
		if !ok {
			return
		}
		ingested, _ := fields["ingested"].(int)
		rejected, _ := fields["rejected"].(int)
		// A clean single-file drop already printed its attachment line.
		if ingested+rejected > 1 || rejected > 0 {
			c.printf("(drop) session done: %d attached, %d rejected\n", ingested, rejected)
		}
	case attach.EventDragSessionError:
		fields, ok := data.(map[string]any)
		if !ok {
			return
		}
		c.printf("\n(drop) %v\n", fields["reason"])
	case attach.EventAttachmentRemoved:
		// Removal always happens through a command that prints its own
		// confirmation.
	default:
		logging.DevLog("pipeline event %s", event)
	}
}

func (c *Chat) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Chat) printMarkdown(text string) {
	if c.render == nil || strings.TrimSpace(text) == "" {
		c.printf("%s\n", text)
		return
	}
	rendered, err := c.render.Render(text)
	if err != nil {
		c.logger.Printf("markdown render failed: %v", err)
		c.printf("%s\n", text)
		return
	}
	c.printf("%s\n", strings.TrimRight(rendered, "\n"))
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

func previewText(text string) string {
	const max = 200
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
