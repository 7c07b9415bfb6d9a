package connstr

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// TermPrompter reads secrets from the controlling terminal without echo.
type TermPrompter struct{}

// Secret prompts on stdout and reads a masked line from stdin.
func (TermPrompter) Secret(prompt string) (string, error) {
	fmt.Print(prompt)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(value), nil
}
