// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/bot-engine/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [utterance]",
	Short: "Answer one utterance and print the response as JSON",
	Long: `Resolve runs one turn through the engine. Pass the utterance as
arguments, or request a knowledge entry directly with --id and answer its
prompts with --payload key=value pairs. Reuse --session to continue a
multi-turn conversation.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("session", "", "session id (default: a new one per call)")
	resolveCmd.Flags().String("id", "", "knowledge id to answer directly")
	resolveCmd.Flags().StringToString("payload", nil, "answers keyed by slot, node or position (key=value)")
	resolveCmd.Flags().String("lang", "", "language of the utterance")
	resolveCmd.Flags().String("expect", "", "expected knowledge id, reported as HIT or MISS")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	u, err := utteranceFromFlags(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.Resolve(cmd.Context(), u)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func utteranceFromFlags(cmd *cobra.Command, args []string) (types.Utterance, error) {
	session, _ := cmd.Flags().GetString("session")
	id, _ := cmd.Flags().GetString("id")
	pairs, _ := cmd.Flags().GetStringToString("payload")
	lang, _ := cmd.Flags().GetString("lang")
	expect, _ := cmd.Flags().GetString("expect")

	u := types.Utterance{
		Text:         strings.Join(args, " "),
		ID:           id,
		SessionID:    session,
		Lang:         lang,
		DesiredMatch: expect,
	}
	if u.Text == "" && u.ID == "" {
		return u, fmt.Errorf("provide an utterance or --id")
	}
	if len(pairs) > 0 {
		u.Payload = make(map[string]types.Answer, len(pairs))
		for k, v := range pairs {
			u.Payload[k] = types.Answer{Response: v}
		}
	}
	return u, nil
}
