package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/runner"
	"github.com/hupe1980/convoflow/stream"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Run one turn and print the streamed answer",
		ArgsUsage: "MESSAGE",
		Description: "Resuming a thread from a separate invocation requires durable " +
			"threads (NATS_URL); the in-memory store lives for one process.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "thread",
				Aliases: []string{"t"},
				Usage:   "Conversation thread `ID`",
				Value:   "cli",
			},
			&cli.StringFlag{
				Name:  "resume",
				Usage: "Resume a suspended thread with the approved `TEXT`",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print raw NDJSON events",
			},
		},
		Action: func(c *cli.Context) error {
			in := runner.UserText(strings.Join(c.Args().Slice(), " "))
			if c.IsSet("resume") {
				in = runner.ResumeWith(c.String("resume"))
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			// stdout carries the answer.
			cfg.LogLevel = "error"

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := build(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			return ask(c.Context, a.runner, c.String("thread"), in, c.Bool("json"), os.Stdout)
		},
	}
}

// ask runs one turn and renders its events to out.
func ask(ctx context.Context, r *runner.Runner, threadID string, in runner.Input, raw bool, out io.Writer) error {
	_, events, errs, err := r.Run(ctx, threadID, in)
	if err != nil {
		return err
	}

	if raw {
		if err := stream.Pipe(ctx, stream.NewNDJSONWriter(out), events); err != nil {
			for range events {
			}
			return err
		}
		return <-errs
	}

	for ev := range events {
		render(out, ev)
	}
	fmt.Fprintln(out)

	if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func render(out io.Writer, ev core.StreamEvent) {
	switch ev.Type {
	case core.EventMessage:
		fmt.Fprint(out, ev.Content)
	case core.EventBestAnswer:
		fmt.Fprintf(out, "\n[faq %s · %s]\n", ev.BestAnswer.ID, ev.BestAnswer.Intent)
	case core.EventInterrupt:
		fmt.Fprintf(out, "\n\n[%s]\n%s\n", ev.Interrupt.Task, ev.Interrupt.Generated)
		for _, call := range ev.Interrupt.ToolCalls {
			fmt.Fprintf(out, "  -> %s %s\n", call.Name, call.Arguments)
		}
		fmt.Fprint(out, "Resume with: convoflow ask --thread <id> --resume \"<text>\"")
	case core.EventError:
		fmt.Fprintf(out, "\nerror: %s", ev.Detail)
	}
}
