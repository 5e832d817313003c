package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/sttrelay/internal/config"
	"github.com/dkeye/sttrelay/internal/vapi"
)

func registerCmd() *cobra.Command {
	var assistantID, wsURL string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Point an assistant's custom transcriber at this relay",
		Long: `Patches the assistant on the voice platform so its transcriber is the
relay's websocket endpoint. API key, assistant id and public URL default to
the vapi.* configuration keys (RELAY_VAPI_API_KEY, ...).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if assistantID == "" {
				assistantID = cfg.Vapi.AssistantID
			}
			if wsURL == "" {
				wsURL = cfg.Vapi.PublicWSURL
			}
			if wsURL == "" {
				return fmt.Errorf("public websocket url is required (--url or vapi.public_ws_url)")
			}

			client := vapi.NewClient(cfg.Vapi.APIURL, cfg.Vapi.APIKey)
			resp, err := client.RegisterTranscriber(cmd.Context(), assistantID, wsURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s for assistant %s\n%s\n", wsURL, assistantID, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&assistantID, "assistant", "", "assistant id (default: vapi.assistant_id)")
	cmd.Flags().StringVar(&wsURL, "url", "", "public websocket URL of the relay (default: vapi.public_ws_url)")
	return cmd
}
