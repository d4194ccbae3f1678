package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"zag/internal/chat"
)

var url string

var Cmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running gateway",
	Long: `Chat with a running gateway from the terminal.

Type a message and press enter. A number picks one of the suggestions shown
on an empty conversation. /attach <url> [content-type] adds a file or image
to the next message. /new starts over, /quit exits. Ctrl-C stops the reply
being streamed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	Cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8787", "gateway base URL")
}

func run(ctx context.Context) error {
	session := chat.NewSession()
	client := chat.NewClient(url, session)
	render := chat.NewRenderer(os.Stdout)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if session.IsLoading() {
				client.Stop()
				continue
			}
			fmt.Println()
			os.Exit(0)
		}
	}()

	render.Render(session)
	in := bufio.NewScanner(os.Stdin)
	for {
		render.Prompt()
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())

		if args, ok := strings.CutPrefix(line, "/attach"); ok && (args == "" || args[0] == ' ') {
			a, err := chat.ParseAttachment(args)
			if err != nil {
				render.Error(err)
				continue
			}
			session.Attach(a)
			render.Info(fmt.Sprintf("attached %s (%s) to the next message", a.URL, a.ContentType))
			continue
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := session.Reset(); err != nil {
				render.Error(err)
				continue
			}
			render.Render(session)
			continue
		}

		if len(session.Messages()) == 0 {
			if s, ok := chat.Suggestion(line); ok {
				line = s
				fmt.Println(line)
			}
		}

		render.AssistantPrefix()
		err := client.Send(ctx, line, render.Part)
		switch {
		case err == nil && client.Stopped():
			fmt.Println()
			render.Info("(stopped)")
		case errors.Is(err, chat.ErrBusy):
			render.Info("a reply is still streaming")
		case err != nil:
			render.Error(err)
		}
	}
}
