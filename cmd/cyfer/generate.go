package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"
)

// Character set constants
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	minGenerateLength     = 8
	maxGenerateLength     = 256
	defaultGenerateLength = 24
	maxGenerateCount      = 100
	maxExcludeLength      = 256
)

// generateOptions selects the alphabet and size of generated secrets.
type generateOptions struct {
	length      int
	count       int
	noSymbols   bool
	noNumbers   bool
	noUppercase bool
	noLowercase bool
	exclude     string
}

func defaultGenerateOptions() generateOptions {
	return generateOptions{length: defaultGenerateLength, count: 1}
}

var genOpts = defaultGenerateOptions()

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&genOpts.length, "length", "l", defaultGenerateLength, "Secret length (8-256)")
	generateCmd.Flags().IntVarP(&genOpts.count, "count", "n", 1, "Number of secrets to generate (1-100)")
	generateCmd.Flags().BoolVar(&genOpts.noSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&genOpts.noNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&genOpts.noUppercase, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&genOpts.noLowercase, "no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().StringVar(&genOpts.exclude, "exclude", "", "Characters to exclude")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random secrets",
	Long: `Generate cryptographically secure random secrets. Nothing is stored.

Examples:
  # Generate a 24-character secret (default)
  cyfer generate

  # Generate 5 secrets of 32 characters without symbols
  cyfer generate -n 5 -l 32 --no-symbols

  # Avoid ambiguous characters
  cyfer generate --exclude "0O1lI"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := genOpts.validate(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i := 0; i < genOpts.count; i++ {
			s, err := genOpts.generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, s)
		}
		return nil
	},
}

func (o generateOptions) validate() error {
	if o.length < minGenerateLength {
		return fmt.Errorf("length must be at least %d characters", minGenerateLength)
	}
	if o.length > maxGenerateLength {
		return fmt.Errorf("length must be at most %d characters", maxGenerateLength)
	}
	if o.count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if o.count > maxGenerateCount {
		return fmt.Errorf("count must be at most %d", maxGenerateCount)
	}
	if len(o.exclude) > maxExcludeLength {
		return fmt.Errorf("exclude string must be at most %d characters", maxExcludeLength)
	}
	return nil
}

// charset builds the alphabet from the enabled classes minus exclusions.
func (o generateOptions) charset() (string, error) {
	var b strings.Builder
	if !o.noLowercase {
		b.WriteString(charsetLowercase)
	}
	if !o.noUppercase {
		b.WriteString(charsetUppercase)
	}
	if !o.noNumbers {
		b.WriteString(charsetDigits)
	}
	if !o.noSymbols {
		b.WriteString(charsetSymbols)
	}

	result := b.String()
	if o.exclude != "" {
		result = strings.Map(func(r rune) rune {
			if strings.ContainsRune(o.exclude, r) {
				return -1
			}
			return r
		}, result)
	}
	if result == "" {
		return "", fmt.Errorf("character set is empty: adjust flags to include at least one character type")
	}
	return result, nil
}

// generate returns one secret drawn uniformly from the charset.
func (o generateOptions) generate() (string, error) {
	charset, err := o.charset()
	if err != nil {
		return "", err
	}
	n := big.NewInt(int64(len(charset)))
	out := make([]byte, o.length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}
