package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/spf13/cobra"
)

type EncodeResult struct {
	Encoded   string `json:"encoded"`
	SharePath string `json:"sharePath"`
	Hash      string `json:"hash"`
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	var link bool

	cmd := &cobra.Command{
		Use:   "encode <payload.json|->",
		Short: "Encode a tournament definition as share text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var p payload.Payload
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("failed to parse payload: %w", err)
			}
			if p.V == 0 {
				p.V = payload.Version
			}

			encoded, err := payload.Encode(p)
			if err != nil {
				return err
			}
			normalized, err := payload.Normalize(p, payload.Options{})
			if err != nil {
				return err
			}
			hash, err := payload.ContentHash(normalized)
			if err != nil {
				return err
			}

			res := EncodeResult{Encoded: encoded, SharePath: payload.ShareLink(encoded), Hash: hash}
			text := res.Encoded
			if link {
				text = res.SharePath
			}
			return rootOpts.print(cmd.OutOrStdout(), res, text)
		},
	}

	cmd.Flags().BoolVar(&link, "link", false, "print the share path instead of the bare text")
	return cmd
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	var today string
	var checkEnded bool

	cmd := &cobra.Command{
		Use:   "decode <text|link>",
		Short: "Decode share text or a share link into its definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkEnded && today == "" {
				loc, err := rootOpts.Config.Location()
				if err != nil {
					return err
				}
				today = calendar.Today(loc)
			}
			if today != "" && !calendar.Valid(today) {
				return fmt.Errorf("invalid --today %q", today)
			}

			encoded, err := payload.ExtractFromLink(args[0])
			if err != nil {
				return err
			}
			decoded, err := payload.Decode(encoded, payload.Options{Today: today})
			if err != nil {
				return err
			}

			text, err := payload.Marshal(decoded.Payload)
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), decoded.Payload, string(text))
		},
	}

	cmd.Flags().StringVar(&today, "today", "", "reject definitions that ended before this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&checkEnded, "check-ended", false, "reject definitions that ended before today")
	return cmd
}

func readInput(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return data, nil
}
