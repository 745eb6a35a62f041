package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/speakmesh/client"
	"github.com/hupe1980/speakmesh/core"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Practice interactively against a running server",
		Long: `chat reads one utterance per line and streams the reply and the grammar
feedback as they arrive. Lines starting with @ submit an audio file instead.

Commands: /summary, /vocab, /history, /reset, /quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			threadID, _ := cmd.Flags().GetString("thread")
			speak, _ := cmd.Flags().GetBool("speak")
			audioDir, _ := cmd.Flags().GetString("audio-dir")
			retries, _ := cmd.Flags().GetInt("max-retries")
			delay, _ := cmd.Flags().GetDuration("base-delay")

			out := cmd.OutOrStdout()
			var player client.Player = client.DiscardPlayer{}
			if audioDir != "" {
				player = &client.FilePlayer{Dir: audioDir}
			}
			c, err := client.New(url, func(o *client.Options) {
				o.MaxRetries = retries
				o.BaseDelay = delay
				o.Player = player
				o.OnEvent = func(ev core.Event) { printEvent(out, ev) }
				o.OnStatus = func(s client.Status) {
					if s.State == client.StateReconnecting {
						fmt.Fprintf(out, "… %s (in %s)\n", s, s.Delay)
					}
				}
			})
			if err != nil {
				return err
			}
			if threadID != "" {
				if _, err := c.History(cmd.Context(), threadID); err != nil {
					return err
				}
				fmt.Fprintf(out, "resumed thread %s (%d messages)\n", threadID, len(c.Conversation().Messages()))
			}
			return chatLoop(cmd.Context(), c, cmd.InOrStdin(), out, speak)
		},
	}
	cmd.Flags().String("url", "http://localhost:8080", "Server base URL")
	cmd.Flags().String("thread", "", "Resume an existing thread")
	cmd.Flags().Bool("speak", false, "Request spoken replies")
	cmd.Flags().String("audio-dir", "", "Write spoken replies to this directory")
	cmd.Flags().Int("max-retries", client.DefaultMaxRetries, "Reconnection attempts per turn")
	cmd.Flags().Duration("base-delay", client.DefaultBaseDelay, "First reconnection delay")
	return cmd
}

func chatLoop(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, speak bool) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/"):
			if err := runCommand(ctx, c, out, line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		default:
			input := client.Input{Text: line, Speak: speak}
			if path, ok := strings.CutPrefix(line, "@"); ok {
				audio, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					break
				}
				input = client.Input{Audio: audio, AudioFormat: strings.TrimPrefix(filepath.Ext(path), "."), Speak: speak}
			}
			if _, err := c.Submit(ctx, input); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, c *client.Client, out io.Writer, line string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	switch line {
	case "/summary":
		sum, err := c.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d corrections\n", len(sum.Corrections))
		for _, corr := range sum.Corrections {
			fmt.Fprintf(out, "  %s → %s\n", corr.Original, corr.Corrected)
		}
		for _, p := range sum.CommonPatterns {
			fmt.Fprintf(out, "  pattern: %s (%d×) %s\n", p.Pattern, p.Frequency, p.Suggestion)
		}
		for _, tip := range sum.Tips {
			fmt.Fprintf(out, "  tip: %s\n", tip)
		}
	case "/vocab":
		suggestions, err := c.Vocabulary(ctx)
		if err != nil {
			return err
		}
		if len(suggestions) == 0 {
			fmt.Fprintln(out, "no suggestions yet")
		}
		for _, s := range suggestions {
			fmt.Fprintf(out, "  %s → %s: %s\n", s.TargetWord, s.Word, s.Definition)
			if s.UsageContext != "" {
				fmt.Fprintf(out, "    %s\n", s.UsageContext)
			}
		}
	case "/history":
		for _, m := range c.Conversation().Messages() {
			fmt.Fprintf(out, "  %s: %s\n", m.Role, m.Content)
			if m.Correction != nil && !m.Correction.NoChanges() {
				fmt.Fprintf(out, "    ✎ %s\n", m.Correction.Corrected)
			}
		}
	case "/reset":
		if err := c.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "thread reset")
	default:
		return fmt.Errorf("unknown command %s", line)
	}
	return nil
}

func printEvent(out io.Writer, ev core.Event) {
	switch ev.Type {
	case core.EventTranscription:
		var p core.TranscriptionPayload
		if ev.Decode(&p) == nil {
			fmt.Fprintf(out, "you said: %s\n", p.Text)
		}
	case core.EventChatResponse:
		var p core.ChatResponsePayload
		if ev.Decode(&p) == nil {
			fmt.Fprintf(out, "partner: %s\n", p.Content)
		}
	case core.EventCorrection:
		var p core.CorrectionPayload
		if ev.Decode(&p) != nil {
			return
		}
		if len(p.Issues) == 0 {
			fmt.Fprintln(out, "feedback: no changes needed")
			return
		}
		fmt.Fprintf(out, "feedback: %s\n", p.Corrected)
		for _, issue := range p.Issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
		if p.Explanation != "" {
			fmt.Fprintf(out, "  %s\n", p.Explanation)
		}
	case core.EventError:
		var p core.ErrorPayload
		if ev.Decode(&p) != nil {
			return
		}
		if p.Role == core.RoleCorrection {
			fmt.Fprintln(out, "feedback: unavailable for this message")
			return
		}
		fmt.Fprintf(out, "%s failed: %s\n", p.Role, p.Message)
	}
}
