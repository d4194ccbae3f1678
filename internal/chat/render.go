package chat

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"zag/internal/message"
	"zag/internal/stream"
)

const (
	Title       = "Hello, I'm Zag."
	Description = "I am an advanced AI agent built with Cloudflare. How can I assist you today?"
)

var Suggestions = []string{
	"What is Cloudflare Workers?",
	"Write a poem about coding",
	"Check the weather in Tokyo",
	"Explain Quantum Computing",
}

// Suggestion resolves a 1-based suggestion number typed at the prompt.
func Suggestion(input string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > len(Suggestions) {
		return "", false
	}
	return Suggestions[n-1], true
}

// Renderer prints conversation state to a terminal.
type Renderer struct {
	out io.Writer

	title     func(a ...any) string
	dim       func(a ...any) string
	user      func(a ...any) string
	assistant func(a ...any) string
	tool      func(a ...any) string
	fail      func(a ...any) string
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:       out,
		title:     color.New(color.FgHiWhite, color.Bold).SprintFunc(),
		dim:       color.New(color.FgHiBlack).SprintFunc(),
		user:      color.New(color.FgBlue, color.Bold).SprintFunc(),
		assistant: color.New(color.FgGreen, color.Bold).SprintFunc(),
		tool:      color.New(color.FgYellow).SprintFunc(),
		fail:      color.New(color.FgRed).SprintFunc(),
	}
}

// Render prints the whole session: the empty state when there are no
// messages, the message list otherwise.
func (r *Renderer) Render(s *Session) {
	msgs := s.Messages()
	if len(msgs) == 0 {
		r.emptyState()
		return
	}
	for _, m := range msgs {
		r.message(m)
	}
	if s.State() == StateErrored {
		r.Error(s.Err())
	}
}

func (r *Renderer) emptyState() {
	fmt.Fprintln(r.out, r.title(Title))
	fmt.Fprintln(r.out, Description)
	fmt.Fprintln(r.out)
	for i, s := range Suggestions {
		fmt.Fprintf(r.out, "  %s %s\n", r.dim(strconv.Itoa(i+1)+"."), s)
	}
	fmt.Fprintln(r.out)
}

func (r *Renderer) message(m message.ChatMessage) {
	switch m.Role {
	case message.RoleUser:
		fmt.Fprintf(r.out, "%s %s\n", r.user("you:"), m.Content)
		for _, a := range m.Attachments {
			name := a.Name
			if name == "" {
				name = a.URL
			}
			fmt.Fprintf(r.out, "  %s\n", r.dim("📎 "+name+" ("+a.ContentType+")"))
		}
	case message.RoleAssistant:
		fmt.Fprintf(r.out, "%s ", r.assistant("zag:"))
		for _, inv := range m.ToolInvocations {
			fmt.Fprintln(r.out)
			r.toolCard(inv)
		}
		fmt.Fprintln(r.out, m.Content)
	default:
		fmt.Fprintf(r.out, "%s %s\n", r.dim(string(m.Role)+":"), m.Content)
	}
}

func (r *Renderer) toolCard(inv message.ToolInvocation) {
	args := string(inv.Args)
	if args == "" {
		args = "{}"
	}
	fmt.Fprintf(r.out, "  %s %s\n", r.tool("⚙ "+inv.ToolName), r.dim(args))
	switch inv.State {
	case message.StateCall:
		fmt.Fprintf(r.out, "    %s\n", r.dim("running..."))
	case message.StateResult:
		fmt.Fprintf(r.out, "    %s %s\n", r.tool("→"), string(inv.Result))
	case message.StateError:
		fmt.Fprintf(r.out, "    %s %s\n", r.fail("✗"), inv.Error)
	}
}

// AssistantPrefix starts a streamed assistant reply.
func (r *Renderer) AssistantPrefix() {
	fmt.Fprintf(r.out, "%s ", r.assistant("zag:"))
}

// Part prints one streamed part as it arrives.
func (r *Renderer) Part(p stream.Part) {
	switch v := p.Value.(type) {
	case string:
		if p.Kind == stream.KindText {
			fmt.Fprint(r.out, v)
		}
	case stream.ToolCall:
		fmt.Fprintln(r.out)
		fmt.Fprintf(r.out, "  %s %s\n", r.tool("⚙ "+v.ToolName), r.dim(string(v.Args)))
	case stream.ToolResult:
		if v.Error != "" {
			fmt.Fprintf(r.out, "    %s %s\n", r.fail("✗"), v.Error)
		} else {
			fmt.Fprintf(r.out, "    %s %s\n", r.tool("→"), string(v.Result))
		}
	case stream.Finish:
		fmt.Fprintln(r.out)
	}
}

func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.fail("error: "+err.Error()))
}

func (r *Renderer) Info(msg string) {
	fmt.Fprintln(r.out, r.dim(msg))
}

func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, r.user("> "))
}
