package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const shellHelp = `commands:
  drop <content>           share content and print its code
  get <code>               retrieve content by code
  open <url>               retrieve the code carried by a share url
  update <code> <content>  replace the content of one of your links
  delete <code>            delete one of your links
  list                     show your active links
  received                 show links retrieved in this session
  help                     show this message
  quit                     leave the shell`

// runShell reads commands from in until EOF or quit. The store, including received links, lives for the whole session.
func (a *app) runShell(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		command, argument := splitCommand(scanner.Text())
		if command == "quit" || command == "exit" {
			return nil
		}
		if err := a.dispatch(ctx, command, argument); err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

func (a *app) dispatch(ctx context.Context, command, argument string) error {
	switch command {
	case "":
		return nil
	case "drop":
		return a.drop(ctx, argument)
	case "get":
		_, err := a.get(ctx, argument)
		return err
	case "open":
		return a.open(ctx, argument)
	case "update":
		code, content := splitCommand(argument)
		return a.update(ctx, code, content)
	case "delete":
		return a.remove(ctx, argument)
	case "list":
		return a.list(ctx)
	case "received":
		a.received()
		return nil
	case "help":
		fmt.Fprintln(a.out, shellHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, type help", command)
	}
}

func splitCommand(line string) (string, string) {
	trimmed := strings.TrimSpace(line)
	command, rest, _ := strings.Cut(trimmed, " ")
	return strings.ToLower(command), strings.TrimSpace(rest)
}
