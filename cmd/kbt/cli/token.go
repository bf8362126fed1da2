package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hasher turns an operator token into the value stored in OPERATOR_TOKEN_HASH.
type Hasher func(token string) (string, error)

// HashTokenOptions defines the inputs of the hash-token command.
type HashTokenOptions struct {
	// Token is read from Stdin when empty.
	Token  string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// HashTokenCommand prints the hash of an operator token.
func HashTokenCommand(hash Hasher, opts HashTokenOptions) int {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		line, err := bufio.NewReader(opts.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			_, _ = fmt.Fprintf(opts.Stderr, "hash-token: read token: %v\n", err)
			return 1
		}
		token = strings.TrimSpace(line)
	}
	if len(token) < 16 {
		_, _ = fmt.Fprintln(opts.Stderr, "hash-token: token must be at least 16 characters")
		return 1
	}
	hashed, err := hash(token)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "hash-token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, hashed)
	return 0
}
