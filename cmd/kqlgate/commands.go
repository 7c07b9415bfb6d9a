package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkql/kqlgate/internal/server"
	"github.com/openkql/kqlgate/internal/settings"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/response"
	"github.com/openkql/kqlgate/pkg/session"
)

func setupCommands() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(serveCmd)

	queryCmd.Flags().Bool("accept-partial", false, "Return partial results instead of failing on backend exceptions")
	queryCmd.Flags().Int("timeout", 0, "Query timeout in seconds")
}

// resolveDescriptor expands environment references and settings-file section
// references before the descriptor reaches the session.
func resolveDescriptor(descriptor string) (string, error) {
	return settings.ResolveDescriptor(cfg.Get(config.KeySettingsFile), descriptor)
}

// withGuidance prints the expected-format text and the connection listing for
// connection-binding failures before handing the error back.
func withGuidance(err error) error {
	if err == nil {
		return nil
	}
	if guidance := sess.ErrorGuidance(err); guidance != "" {
		fmt.Fprintln(os.Stderr, guidance)
	}
	return err
}

var connectCmd = &cobra.Command{
	Use:   "connect <connection-string>",
	Short: "Establish a connection and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		descriptor, err := resolveDescriptor(args[0])
		if err != nil {
			return err
		}
		eng, err := sess.GetOrCreate(cmd.Context(), descriptor)
		if err != nil {
			return withGuidance(err)
		}
		fmt.Printf("Connected: %s\n", eng.Name())
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <kql>",
	Short: "Run a KQL query against the current or given connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		descriptor, err := resolveDescriptor(flagConnection)
		if err != nil {
			return err
		}

		acceptPartial, _ := cmd.Flags().GetBool("accept-partial")
		timeoutSecs, _ := cmd.Flags().GetInt("timeout")

		opts := session.RunOptions{
			AcceptPartial:  acceptPartial,
			SkipValidation: flagNoValidate,
		}
		if timeoutSecs > 0 {
			opts.Timeout = time.Duration(timeoutSecs) * time.Second
		}

		result, err := sess.Run(cmd.Context(), descriptor, args[0], opts)
		if err != nil {
			return withGuidance(err)
		}
		return printResult(result)
	},
}

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conns"},
	Short:   "List established connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines := sess.ListFormatted()
		if len(lines) == 0 {
			fmt.Println("No connections established.")
			return nil
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

var formatCmd = &cobra.Command{
	Use:   "format <scheme>",
	Short: "Show the connection-string format for a backend scheme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(session.TellFormat(args[0]))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := server.NewEngine(cfg, sess)
		if err := engine.Start(cmd.Context()); err != nil {
			return err
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return engine.Stop(ctx)
	},
}

// printResult renders primary result tables as aligned text.
func printResult(result *response.Unified) error {
	if result == nil {
		return nil
	}
	for _, table := range result.PrimaryResults() {
		if err := printTable(table); err != nil {
			return err
		}
	}
	for _, exception := range result.Exceptions() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", exception)
	}
	return nil
}

func printTable(table *response.Table) error {
	names := table.ColumnNames()
	widths := make([]int, len(names))
	for i, name := range names {
		widths[i] = len(name)
	}

	raw, err := table.Rows()
	if err != nil {
		return fmt.Errorf("malformed result table %s: %w", table.Name, err)
	}
	var rows [][]string
	for _, cells := range raw {
		row := make([]string, len(cells))
		for i, cell := range cells {
			row[i] = fmt.Sprintf("%v", cell)
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
		rows = append(rows, row)
	}

	printRow(names, widths)
	separators := make([]string, len(names))
	for i, w := range widths {
		separators[i] = strings.Repeat("-", w)
	}
	printRow(separators, widths)
	for _, row := range rows {
		printRow(row, widths)
	}
	fmt.Println()
	return nil
}

func printRow(cells []string, widths []int) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Print("  ")
		}
		fmt.Printf("%-*s", widths[i], cell)
	}
	fmt.Println()
}
