package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/openkql/kqlgate/internal/settings"
	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/session"
)

// startREPL runs the interactive query loop. Lines that look like connection
// descriptors switch the current connection; everything else is dispatched as
// KQL against it.
func startREPL() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptString(),
		HistoryFile:     historyFile(),
		AutoComplete:    buildCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize interactive mode: %v", err)
	}
	defer rl.Close()

	fmt.Println("kqlgate interactive mode.")
	fmt.Println("Enter a connection string to connect, KQL to query, 'help' for commands, 'exit' to quit.")
	fmt.Println()

	ctx := context.Background()

	if flagConnection != "" {
		if err := handleConnect(ctx, flagConnection); err != nil {
			reportError(err)
		}
	}

	for {
		rl.SetPrompt(promptString())

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					fmt.Println("Type 'exit' to quit")
				}
				continue
			} else if err == io.EOF {
				fmt.Println("exit")
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye!")
			break
		}
		if handleSpecialCommand(ctx, line) {
			continue
		}

		if err := runLine(ctx, line); err != nil {
			reportError(err)
		}
	}

	return nil
}

// reportError prints the error with format guidance and the connection
// listing when the failure is a connection-binding one.
func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if guidance := sess.ErrorGuidance(err); guidance != "" {
		fmt.Fprintln(os.Stderr, guidance)
	}
}

func promptString() string {
	if cur := sess.Current(); cur != nil {
		return fmt.Sprintf("kql %s> ", cur.Name())
	}
	return "kql (not connected)> "
}

func historyFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return homeDir + "/.kqlgate/history"
}

// handleSpecialCommand handles built-in REPL commands.
// Returns true if the command was handled.
func handleSpecialCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "clear":
		fmt.Print("\033[H\033[2J")
		return true
	case "help":
		fmt.Println("Commands:")
		fmt.Println("  connect <connection-string>   establish a connection")
		fmt.Println("  connections                   list connections")
		fmt.Println("  use <name>                    switch the current connection")
		fmt.Println("  format <scheme>               show a backend's connection format")
		fmt.Println("  clear, exit")
		return true
	case "connections", "conns":
		for _, entry := range sess.ListFormatted() {
			fmt.Println(entry)
		}
		return true
	case "connect", "use":
		if len(fields) < 2 {
			fmt.Fprintf(os.Stderr, "Error: %s requires an argument\n", fields[0])
			return true
		}
		if err := handleConnect(ctx, fields[1]); err != nil {
			reportError(err)
		}
		return true
	case "format":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "Error: format requires a scheme")
			return true
		}
		fmt.Println(session.TellFormat(fields[1]))
		return true
	}
	return false
}

func handleConnect(ctx context.Context, descriptor string) error {
	descriptor, err := resolveDescriptor(descriptor)
	if err != nil {
		return err
	}
	eng, err := sess.GetOrCreate(ctx, descriptor)
	if err != nil {
		return err
	}
	fmt.Printf("Connected: %s\n", eng.Name())
	return nil
}

// runLine treats descriptor-looking lines as connection switches and
// everything else as a query against the current connection.
func runLine(ctx context.Context, line string) error {
	if strings.Contains(line, "://") || settings.IsSectionRef(line) {
		return handleConnect(ctx, line)
	}

	result, err := sess.Run(ctx, "", line, session.RunOptions{SkipValidation: flagNoValidate})
	if err != nil {
		return err
	}
	return printResult(result)
}

func buildCompleter() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("connect"),
		readline.PcItem("connections"),
		readline.PcItem("use"),
		readline.PcItem("clear"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	}
	var schemes []readline.PrefixCompleterInterface
	for _, id := range backends.IDs() {
		schemes = append(schemes, readline.PcItem(string(id)))
	}
	items = append(items, readline.PcItem("format", schemes...))
	return readline.NewPrefixCompleter(items...)
}
