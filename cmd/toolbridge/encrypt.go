package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"toolbridge/internal/infra/config"
)

// configKeyEnv names the passphrase used for enc: config values.
const configKeyEnv = "TOOLBRIDGE_CONFIG_KEY"

func newEncryptCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "encrypt",
		Short:   "Encrypt a secret read from stdin for use as an enc: config value",
		Example: `  printf '%s' "$OPENAI_API_KEY" | TOOLBRIDGE_CONFIG_KEY=... toolbridge encrypt`,
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			passphrase := os.Getenv(configKeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", configKeyEnv)
			}

			secret, err := readSecret(o.in)
			if err != nil {
				return err
			}

			encrypted, err := config.EncryptValue(secret, passphrase)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintf(o.out, "enc:%s\n", encrypted)
			return err
		},
	}
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}
