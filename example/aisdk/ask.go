package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-aisdk"
)

func newAskCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "ask [PROMPT]",
		Short: "Ask once and print the complete answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args)
			if err != nil {
				return err
			}
			text, err := a.chatClient().Ask(cmd.Context(), prompt, a.askOptions(system)...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system directive")
	return cmd
}

func newStreamCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "stream [PROMPT]",
		Short: "Stream the answer as it is generated; Ctrl-C stops it",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return streamAnswer(ctx, cmd.OutOrStdout(), a.chatClient(), prompt, a.askOptions(system))
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system directive")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat; Ctrl-C stops the current answer, Ctrl-C at the prompt exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			asker := aisdk.NewAsker(a.chatClient(), aisdk.WithFragmentHandler(func(fragment string) {
				fmt.Fprint(out, fragment)
			}))

			lines := stdinLines()
			for {
				fmt.Fprint(out, color.CyanString("> "))

				inputCtx, stopInput := signal.NotifyContext(cmd.Context(), os.Interrupt)
				input, err := waitStdIOInput(inputCtx, lines)
				stopInput()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
						fmt.Fprintln(out)
						return nil
					}
					return err
				}
				if strings.TrimSpace(input) == "" {
					continue
				}

				askCtx, stopAsk := signal.NotifyContext(cmd.Context(), os.Interrupt)
				err = asker.Ask(askCtx, input, a.askOptions(system)...)
				canceled := askCtx.Err() != nil
				stopAsk()

				switch {
				case err != nil:
					fmt.Fprintln(out, color.RedString("\nerror: %v", err))
				case canceled:
					fmt.Fprintln(out, color.YellowString(" [stopped]"))
				default:
					fmt.Fprintln(out)
				}
			}
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system directive")
	return cmd
}

func streamAnswer(ctx context.Context, out io.Writer, cli *aisdk.Client, prompt string, opts []aisdk.AskOption) error {
	for fragment, err := range cli.Stream(ctx, prompt, opts...) {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, fragment)
	}
	if ctx.Err() != nil {
		fmt.Fprintln(out, color.YellowString(" [stopped]"))
		return nil
	}
	fmt.Fprintln(out)
	return nil
}

// readPrompt takes the prompt from the arguments, or from stdin when it is piped.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errors.New("a prompt is required")
	}
	bs, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(bs))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

type inputLine struct {
	text string
	err  error
}

// stdinLines feeds the lines of stdin to the returned channel. The channel receives io.EOF, or the
// scanner error, as its last element.
func stdinLines() <-chan inputLine {
	lines := make(chan inputLine)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- inputLine{text: scanner.Text()}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		lines <- inputLine{err: err}
	}()
	return lines
}

func waitStdIOInput(ctx context.Context, lines <-chan inputLine) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-lines:
		return line.text, line.err
	}
}
