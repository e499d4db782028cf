package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

var registerCommand = &cli.Command{
	Name:      "register",
	Usage:     "Create a partition or change its wallet handle",
	ArgsUsage: "PARTITION",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "handle", Usage: "Wallet handle used to fetch messages (empty clears it)"},
	},
	Before: prepareApp,
	After:  closeApp,
	Action: cmdRegister,
}

func cmdRegister(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a partition id")
	}
	p, err := getApp(ctx).msgs.RegisterPartition(ctx.Context, ctx.Args().Get(0), ctx.String("handle"))
	if err != nil {
		return err
	}
	handle, _ := p.Handle()
	fmt.Printf("Partition '%s' registered (handle %q)\n", p.ID, handle)
	return nil
}

var listCommand = &cli.Command{
	Name:   "list",
	Usage:  "List partitions with message counts and checkpoints",
	Before: prepareApp,
	After:  closeApp,
	Action: cmdList,
}

func cmdList(ctx *cli.Context) error {
	a := getApp(ctx)
	list, err := a.msgs.ListPartitions(ctx.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tHANDLE\tMESSAGES\tPENDING\tCHECKPOINT")
	for i := range list {
		p := &list[i]
		handle, _ := p.Handle()
		total, pending, err := a.messages.CountByPartition(ctx.Context, p.ID)
		if err != nil {
			return err
		}
		cp, err := a.sync.Checkpoint(ctx.Context, p.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.ID, handle, total, pending, cp.Format("2006-01-02 15:04:05Z07:00"))
	}
	return tw.Flush()
}

var syncCommand = &cli.Command{
	Name:      "sync",
	Usage:     "Run one sync pass (all partitions when none is given)",
	ArgsUsage: "[PARTITION]",
	Before:    prepareApp,
	After:     closeApp,
	Action:    cmdSync,
}

func cmdSync(ctx *cli.Context) error {
	a := getApp(ctx)
	if ctx.NArg() == 0 {
		return a.sync.SyncAll(ctx.Context)
	}
	report, err := a.sync.SyncMessages(ctx.Context, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return printJSON(report)
}

var messagesCommand = &cli.Command{
	Name:      "messages",
	Usage:     "Print the display window of a partition",
	ArgsUsage: "PARTITION",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "offset", Usage: "Skip this many newest messages"},
	},
	Before: prepareApp,
	After:  closeApp,
	Action: cmdMessages,
}

func cmdMessages(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a partition id")
	}
	recs, err := getApp(ctx).msgs.MessagesForDisplay(ctx.Context, ctx.Args().Get(0), ctx.Int("offset"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tFROM\tCOMPOSED\tUNREAD\tBODY")
	for i := range recs {
		r := &recs[i]
		body := r.Body
		if r.Survey != nil {
			body = r.Survey.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", r.ID, r.Kind, r.From,
			r.ComposedAt.Format("2006-01-02 15:04"), r.Unread, strings.ReplaceAll(body, "\n", " "))
	}
	return tw.Flush()
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Queue a text message for upload",
	ArgsUsage: "PARTITION TEXT...",
	Before:    prepareApp,
	After:     closeApp,
	Action:    cmdSend,
}

func cmdSend(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: send PARTITION TEXT")
	}
	args := ctx.Args().Slice()
	rec, err := getApp(ctx).msgs.CreateMessage(ctx.Context, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("Message '%s' queued\n", rec.ID)
	return nil
}

var respondCommand = &cli.Command{
	Name:      "respond",
	Usage:     "Answer a survey, one choice per question",
	ArgsUsage: "PARTITION SURVEY CHOICE...",
	Before:    prepareApp,
	After:     closeApp,
	Action:    cmdRespond,
}

func cmdRespond(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("usage: respond PARTITION SURVEY CHOICE...")
	}
	args := ctx.Args().Slice()
	rec, err := getApp(ctx).msgs.CreateSurveyResponse(ctx.Context, args[0], args[1], args[2:])
	if err != nil {
		return err
	}
	fmt.Printf("Response '%s' to survey '%s' queued\n", rec.ID, args[1])
	return nil
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "Mark messages as read",
	ArgsUsage: "PARTITION ID...",
	Before:    prepareApp,
	After:     closeApp,
	Action:    cmdRead,
}

func cmdRead(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("usage: read PARTITION ID...")
	}
	args := ctx.Args().Slice()
	if err := getApp(ctx).msgs.MarkRead(ctx.Context, args[0], args[1:]...); err != nil {
		return err
	}
	fmt.Printf("%d message(s) marked read\n", len(args)-1)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
