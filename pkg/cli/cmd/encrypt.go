package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rzbill/cruise/internal/config"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type encryptOptions struct {
	serverConfig string
	stdin        bool
}

func newEncryptCmd() *cobra.Command {
	opts := &encryptOptions{}
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a secure configuration value",
		Long: `Encrypt a value with the server's key so it can be stored as the
encrypted_value of a secure property in a configuration partial.

The key is located through the server configuration file. The value is
prompted for without echo, or read from standard input with --stdin.

Examples:
  cruise encrypt --server-config /etc/cruise/cruise.yaml
  printf 's3cret' | cruise encrypt --stdin`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.serverConfig)
			if err != nil {
				return err
			}
			if !cfg.Secret.Encryption.Enabled {
				return errors.New("secret encryption is disabled in the server configuration")
			}
			cipher, err := crypto.NewAESCipherFromOptions(*cfg.KEKOptions())
			if err != nil {
				return fmt.Errorf("failed to load encryption key: %w", err)
			}
			value, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), opts.stdin)
			if err != nil {
				return err
			}
			return runEncrypt(cmd.OutOrStdout(), cipher, value)
		},
	}
	cmd.Flags().StringVar(&opts.serverConfig, "server-config", "", "Server configuration file (default searches ./cruise.yaml and /etc/cruise)")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read the value from standard input")
	return cmd
}

func runEncrypt(out io.Writer, cipher crypto.Cipher, value string) error {
	if value == "" {
		return errors.New("refusing to encrypt an empty value")
	}
	encrypted, err := cipher.Encrypt(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, encrypted)
	return err
}

// readSecret prompts without echo when standard input is a terminal and
// reads the first line of in otherwise.
func readSecret(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Value: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read value: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
