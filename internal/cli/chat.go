// Package cli is the interactive terminal shell: a line-edited prompt with
// slash commands, rendered answers and the store check shown up front.
//
// Interactive commands:
//
//	/help            Show available commands
//	/model [name]    Show or switch the model
//	/models          List configured models
//	/history         Show the conversation
//	/status          Check the vector store and show the session
//	/quit            Exit
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/rs/zerolog/log"

	"augustine-rag/internal/config"
	"augustine-rag/internal/helper"
	"augustine-rag/internal/models"
	"augustine-rag/internal/rag"
	"augustine-rag/internal/session"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE"))
)

const historyFileName = "chat_history"

// Chat drives one terminal session.
type Chat struct {
	pipeline *rag.Pipeline
	store    rag.VectorStore
	sess     *session.Session
	models   []config.ModelOption
	stream   bool
	out      io.Writer
	render   func(string) string
}

func New(pipeline *rag.Pipeline, store rag.VectorStore, sess *session.Session, options []config.ModelOption, stream bool, out io.Writer) *Chat {
	if out == nil {
		out = os.Stdout
	}
	return &Chat{
		pipeline: pipeline,
		store:    store,
		sess:     sess,
		models:   options,
		stream:   stream,
		out:      out,
		render:   newMarkdownRenderer(),
	}
}

// newMarkdownRenderer falls back to plain text when glamour cannot start.
func newMarkdownRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Markdown renderer unavailable")
		return func(s string) string { return s + "\n" }
	}
	return func(s string) string {
		rendered, err := r.Render(s)
		if err != nil {
			return s + "\n"
		}
		return rendered
	}
}

// Run reads questions until /quit, Ctrl+C at the prompt or EOF.
func (c *Chat) Run(ctx context.Context) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := loadHistory(line)
	defer func() {
		saveHistory(line, historyFile)
		line.Close()
	}()

	c.Banner(ctx)

	for {
		input, err := line.Prompt("augustine> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			keepGoing, err := c.HandleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(c.out, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		c.askInterruptible(ctx, input)
	}
}

// askInterruptible cancels the running turn on Ctrl+C.
func (c *Chat) askInterruptible(ctx context.Context, question string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if _, err := c.Ask(turnCtx, question); err != nil {
		fmt.Fprintf(c.out, "%s %v\n", errorStyle.Render("[Error]"), err)
	}
}

// Banner shows the persona, the selected model and the store check result.
func (c *Chat) Banner(ctx context.Context) {
	fmt.Fprintln(c.out, titleStyle.Render("Ask Augustine"))
	fmt.Fprintf(c.out, "%s %s\n", infoStyle.Render("Persona:"), c.sess.Persona)
	c.printModel()
	c.printStoreCheck(ctx)
	fmt.Fprintln(c.out, infoStyle.Render("Type /help for commands."))
	fmt.Fprintln(c.out)
}

// Ask runs one turn and prints the answer, and any stage failures as
// warnings.
func (c *Chat) Ask(ctx context.Context, question string) (rag.TurnResult, error) {
	var (
		res rag.TurnResult
		err error
	)
	if c.stream {
		res, err = c.pipeline.TurnStream(ctx, c.sess, question, func(fragment string) error {
			_, err := io.WriteString(c.out, fragment)
			return err
		})
		if err == nil {
			if res.Failed() {
				fmt.Fprintf(c.out, "\n%s\n", res.Answer)
			} else {
				fmt.Fprintln(c.out)
			}
		}
	} else {
		res, err = c.pipeline.Turn(ctx, c.sess, question)
		if err == nil {
			fmt.Fprint(c.out, c.render(res.Answer))
		}
	}
	if err != nil {
		return res, err
	}

	for _, serr := range res.Errors {
		fmt.Fprintf(c.out, "%s %s\n", warningStyle.Render("["+string(serr.Kind)+"]"), serr.Err)
	}
	return res, nil
}

// HandleCommand runs a slash command. It returns false when the chat
// should end.
func (c *Chat) HandleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true, nil
	}
	command := strings.ToLower(parts[0])
	args := strings.Join(parts[1:], " ")

	switch command {
	case "/help", "/h", "/?", "/":
		c.printHelp()
	case "/model", "/m":
		if args == "" {
			c.printModel()
			return true, nil
		}
		m, err := c.sess.SelectModel(c.models, args)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(c.out, "%s %s (%s)\n", okStyle.Render("[Model switched]"), m.Name, m.ID)
	case "/models":
		current := c.sess.Model()
		for _, m := range c.models {
			marker := "  "
			if m == current {
				marker = "* "
			}
			fmt.Fprintf(c.out, "%s%s %s\n", marker, m.Name, infoStyle.Render("("+m.ID+")"))
		}
	case "/history":
		c.printHistory()
	case "/status", "/s":
		c.printModel()
		c.printStoreCheck(ctx)
		fmt.Fprintf(c.out, "%s %d\n", infoStyle.Render("Turns:"), (c.sess.Len()-1)/2)
	case "/quit", "/q", "/exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func (c *Chat) printModel() {
	m := c.sess.Model()
	fmt.Fprintf(c.out, "%s %s (%s)\n", infoStyle.Render("Model:"), m.Name, m.ID)
}

func (c *Chat) printStoreCheck(ctx context.Context) {
	if err := c.store.Ping(ctx); err != nil {
		fmt.Fprintf(c.out, "%s %s %v\n", infoStyle.Render("Vector store:"), errorStyle.Render("unreachable"), err)
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", infoStyle.Render("Vector store:"), okStyle.Render("connected"))
}

func (c *Chat) printHistory() {
	turns := c.sess.Visible()
	if len(turns) == 0 {
		fmt.Fprintln(c.out, infoStyle.Render("No messages yet."))
		return
	}
	for _, t := range turns {
		if t.Role == models.RoleUser {
			fmt.Fprintf(c.out, "%s %s\n", userStyle.Render("You:"), t.Content)
			continue
		}
		fmt.Fprint(c.out, c.render(t.Content))
	}
}

func (c *Chat) printHelp() {
	fmt.Fprintln(c.out, titleStyle.Render("Commands"))
	for _, h := range [][2]string{
		{"/help", "Show available commands"},
		{"/model [name]", "Show or switch the model"},
		{"/models", "List configured models"},
		{"/history", "Show the conversation"},
		{"/status", "Check the vector store and show the session"},
		{"/quit", "Exit"},
	} {
		fmt.Fprintf(c.out, "  %-15s %s\n", h[0], infoStyle.Render(h[1]))
	}
}

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "augustine-rag", historyFileName)
}

func loadHistory(line *liner.State) string {
	path := historyPath()
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return path
}

func saveHistory(line *liner.State, path string) {
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
