package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// RunLines is the REPL used when stdin is not a terminal. It reads one
// command per line until EOF or :quit.
func RunLines(ctx context.Context, port Port, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprintln(out, "Document Q&A. Type :help for commands.")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprintf(out, "%s> ", prompt(port.Status()))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		reply := Execute(ctx, port, ParseCommand(scanner.Text(), port.Status().Ready))
		if reply.Quit {
			return nil
		}
		writeReply(out, reply)
	}
}

func writeReply(out io.Writer, r Reply) {
	if r.Err != nil {
		fmt.Fprintln(out, errorText(r.Err))
		return
	}
	if r.Text != "" {
		fmt.Fprintln(out, r.Text)
	}
	if len(r.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		fmt.Fprintln(out, formatSources(r.Sources))
	}
}
