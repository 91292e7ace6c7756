// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pdiddy/bot-engine/pkg/types"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	botStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("230"))
	metaStyle   = lipgloss.NewStyle().Faint(true)
	nifStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	askStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214"))
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot interactively",
	Long: `Chat opens a session and answers every line read from stdin. Lines
starting with a slash are commands:

  /reload    refetch the knowledge package
  /new       start a new session
  /quit      leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("session", "", "session id (default: a new one)")
	chatCmd.Flags().Bool("verbose", false, "print knowledge id, score and routing for each turn")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	session, _ := cmd.Flags().GetString("session")
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return chat(cmd.Context(), a.engine, os.Stdin, os.Stdout, session, verbose)
}

// chat runs the read-resolve-print loop until in is exhausted or /quit.
func chat(ctx context.Context, r resolver, in io.Reader, out io.Writer, session string, verbose bool) error {
	if session == "" {
		session = uuid.NewString()
	}
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			session = uuid.NewString()
			fmt.Fprintln(out, metaStyle.Render("session "+session))
			continue
		case "/reload":
			if err := r.Reload(ctx); err != nil {
				fmt.Fprintln(out, nifStyle.Render("reload failed: "+err.Error()))
			} else {
				fmt.Fprintln(out, metaStyle.Render("knowledge reloaded"))
			}
			continue
		}

		resp, err := r.Resolve(ctx, types.Utterance{Text: line, SessionID: session})
		if err != nil {
			return err
		}
		printTurn(out, resp, verbose)
	}
}

func printTurn(out io.Writer, resp *types.Response, verbose bool) {
	style := botStyle
	if resp.NIF {
		style = nifStyle
	}
	fmt.Fprintln(out, style.Render(resp.Text))
	if c := resp.Conversation; c != nil && c.Ask != nil && c.Ask.Text != "" && !strings.Contains(resp.Text, c.Ask.Text) {
		fmt.Fprintln(out, askStyle.Render(c.Ask.Text))
	}
	if resp.Router != nil && resp.Router.Destination != "" {
		fmt.Fprintln(out, metaStyle.Render("routed to "+resp.Router.Destination))
	}
	if verbose {
		meta := fmt.Sprintf("[%s %s score=%.2f", resp.KnowledgeID, resp.Kind, resp.Score)
		if resp.RoutedEvent != "" {
			meta += " " + resp.RoutedEvent
		}
		meta += "]"
		fmt.Fprintln(out, metaStyle.Render(meta))
	}
}
