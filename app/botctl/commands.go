package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yoockh/meetbot/internal/models"
)

type rootOptions struct {
	server  string
	token   string
	timeout time.Duration
	output  string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "botctl",
		Short: "Control meeting bots on a meetbot server",
		Long: `botctl sends join and leave requests to a meetbot server and inspects
session status and transcripts.

Examples:
  # Send a bot to a meeting and record it
  botctl join team-sync https://meet.example.com/abc-defg --record

  # Follow up on the session
  botctl status 4b7e...
  botctl transcript 4b7e... -o json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("BOTCTL_SERVER", "http://localhost:8080"), "meetbot server URL (env BOTCTL_SERVER)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BOTCTL_TOKEN"), "bearer token with the app or admin role (env BOTCTL_TOKEN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json, yaml")

	cmd.AddCommand(
		newJoinCommand(opts),
		newLeaveCommand(opts),
		newStatusCommand(opts),
		newListCommand(opts),
		newTranscriptCommand(opts),
	)
	return cmd
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

func (o *rootOptions) print(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	switch strings.ToLower(o.output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case "text", "":
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}

func newJoinCommand(opts *rootOptions) *cobra.Command {
	var req joinRequest

	cmd := &cobra.Command{
		Use:   "join <meeting-id> <join-url>",
		Short: "Send a bot to a meeting",
		Long: `Ask the server to send a bot into a meeting. A meeting that already has
an active bot is not joined twice; the existing session is returned.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.MeetingID, req.JoinURL = args[0], args[1]
			res, err := opts.client().Join(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.print(cmd, res, func(w io.Writer) error {
				verb := "started"
				if res.Attached {
					verb = "already running"
				}
				_, err := fmt.Fprintf(w, "Session %s %s (status %s)\n", res.SessionID, verb, res.Status)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&req.RecordAudio, "record", false, "record audio and produce a transcript")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "bot display name in the meeting")
	return cmd
}

func newLeaveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <session-id>",
		Short: "Make a bot leave its meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().Leave(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, v, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Leave requested for %s (status %s)\n", v.SessionID, v.Status)
				return err
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var byMeeting bool

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var (
				v   *models.SessionView
				err error
			)
			if byMeeting {
				v, err = c.GetByMeeting(cmd.Context(), args[0])
			} else {
				v, err = c.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return opts.print(cmd, v, func(w io.Writer) error { return writeSession(w, v) })
		},
	}
	cmd.Flags().BoolVar(&byMeeting, "meeting", false, "treat the argument as a meeting id")
	return cmd
}

func writeSession(w io.Writer, v *models.SessionView) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", v.SessionID)
	fmt.Fprintf(tw, "Meeting:\t%s\n", v.MeetingID)
	fmt.Fprintf(tw, "Status:\t%s\n", v.Status)
	if v.ErrorReason != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", v.ErrorReason)
	}
	if v.EndReason != "" {
		fmt.Fprintf(tw, "Ended by:\t%s\n", v.EndReason)
	}
	fmt.Fprintf(tw, "Recording:\t%t (%d chunks)\n", v.RecordAudio, v.ChunkCount)
	fmt.Fprintf(tw, "Speaker events:\t%d\n", v.SpeakerEvents)
	fmt.Fprintf(tw, "Transcript:\t%t\n", v.HasTranscript)
	fmt.Fprintf(tw, "Created:\t%s\n", v.CreatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List sessions",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := opts.client().List(cmd.Context(), active)
			if err != nil {
				return err
			}
			payload := map[string]any{"sessions": sessions, "count": len(sessions)}
			return opts.print(cmd, payload, func(w io.Writer) error {
				if len(sessions) == 0 {
					_, err := fmt.Fprintln(w, "No sessions.")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tMEETING\tSTATUS\tCHUNKS\tCREATED")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.SessionID, s.MeetingID, s.Status, s.ChunkCount, s.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only sessions that are still running")
	return cmd
}

func newTranscriptCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print the transcript of a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.client().Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, tr, func(w io.Writer) error {
				if tr.Summary != "" {
					fmt.Fprintf(w, "Summary:\n%s\n\n", tr.Summary)
				}
				for _, e := range tr.Entries {
					fmt.Fprintf(w, "[%s] %s: %s\n", clock(e.Start), e.Speaker, e.Text)
				}
				return nil
			})
		},
	}
}

func clock(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
