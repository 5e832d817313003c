package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func dumpCmd() *cobra.Command {
	var (
		output string
		wav    bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Download the most recent raw audio dump from the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimRight(relayURL, "/") + "/dump"
			if wav {
				target += "?format=wav"
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("download dump: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("relay answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			if output == "" {
				output = "audio-dump.raw"
				if wav {
					output = "audio-dump.wav"
				}
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, resp.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d bytes to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default audio-dump.raw or audio-dump.wav)")
	cmd.Flags().BoolVar(&wav, "wav", false, "download with a WAV header")
	return cmd
}
