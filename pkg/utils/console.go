package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ReadCode prompts on out and reads codes from in until one is valid.
func ReadCode(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprintf(out, "Enter code from sender: ")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case code, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("input closed before a valid code was entered")
			}
			if IsValidCode(code) {
				return code, nil
			}
			fmt.Fprintf(out, "Invalid code. Please enter again.\n")
		}
	}
}
