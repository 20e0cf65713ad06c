package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/castboard/internal/events"
	"github.com/alfredjeanlab/castboard/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Inspect the event bus",
	GroupID: "server",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch [topic]",
	Short: "Print events published on NATS",
	Long: `Print events published on NATS as they arrive.

The topic defaults to every castboard subject. "session.*" is shorthand
for "castboard.session.*".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			return fmt.Errorf("CASTBOARD_NATS_URL is not set")
		}

		topic := events.AllTopics
		if len(args) == 1 {
			topic = qualifyTopic(args[0])
		}

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.Name("castboard-watch"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected", "err", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return err
		}
		defer cancel()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", ui.RenderAccent(topic))
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				fmt.Println(formatEventLine(time.Now(), msg))
			}
		}
	},
}

// qualifyTopic adds the castboard subject prefix when it is missing.
func qualifyTopic(t string) string {
	if strings.HasPrefix(t, "castboard.") {
		return t
	}
	return "castboard." + t
}

// formatEventLine renders one message as "time topic payload". Valid JSON
// payloads are compacted; anything else is printed as-is. With --json each
// line is an object carrying the subject and payload.
func formatEventLine(at time.Time, msg events.Message) string {
	if jsonOutput {
		var payload any = string(msg.Data)
		if json.Valid(msg.Data) {
			payload = json.RawMessage(msg.Data)
		}
		b, err := json.Marshal(map[string]any{"subject": msg.Subject, "payload": payload})
		if err != nil {
			return string(msg.Data)
		}
		return string(b)
	}

	payload := string(msg.Data)
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg.Data); err == nil {
		payload = buf.String()
	}
	return ui.RenderMuted(at.Format("15:04:05")) + " " + ui.RenderAccent(msg.Topic()) + " " + payload
}

func init() {
	eventsWatchCmd.Flags().String("nats-url", os.Getenv("CASTBOARD_NATS_URL"), "NATS server URL")
	eventsCmd.AddCommand(eventsWatchCmd)
}
