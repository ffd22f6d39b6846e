package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stevetools/calsync/internal/store"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List and manage local calendar events",
	}

	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsAddCmd())
	cmd.AddCommand(newEventsDoneCmd())
	cmd.AddCommand(newEventsRmCmd())

	return cmd
}

func newEventsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events in the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(events)
			}

			for _, ev := range events {
				mark := " "
				if ev.Completed {
					mark = "x"
				}

				fmt.Printf("[%s] %s  %s  (%s, %s)\n",
					mark, ev.Start.Local().Format("2006-01-02 15:04"), ev.Title, ev.Source, ev.ID)
			}

			return nil
		},
	}
}

func newEventsAddCmd() *cobra.Command {
	var (
		flagStart    string
		flagEnd      string
		flagAllDay   bool
		flagDesc     string
		flagLocation string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a local event (pushed on the next sync)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseWhen(flagStart)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			end := start.Add(time.Hour)

			if flagAllDay {
				end = start.Add(24 * time.Hour)
			}

			if flagEnd != "" {
				end, err = parseWhen(flagEnd)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}

			now := time.Now().UTC()
			ev := &store.Event{
				ID:          uuid.NewString(),
				Title:       args[0],
				Description: flagDesc,
				Location:    flagLocation,
				Start:       start,
				End:         end,
				AllDay:      flagAllDay,
				Source:      "manual",
				NeedsPush:   true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Put(cmd.Context(), ev); err != nil {
				return err
			}

			if err := st.Persist(cmd.Context()); err != nil {
				return err
			}

			fmt.Printf("created %s\n", ev.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagStart, "start", "", "start time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagEnd, "end", "", "end time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flagAllDay, "all-day", false, "all-day event")
	cmd.Flags().StringVar(&flagDesc, "description", "", "event description")
	cmd.Flags().StringVar(&flagLocation, "location", "", "event location")
	cmd.MarkFlagRequired("start")

	return cmd
}

func newEventsDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle an event's completed flag (local-only, never synced)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ev, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			ev.Completed = !ev.Completed
			ev.UpdatedAt = time.Now().UTC()

			if err := st.Put(cmd.Context(), ev); err != nil {
				return err
			}

			return st.Persist(cmd.Context())
		},
	}
}

func newEventsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a local event (remote copy deleted on the next sync)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ev, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			// Linked events are deleted remotely first; unlinked ones can
			// go immediately.
			if ev.RemoteURL != "" {
				ev.NeedsDelete = true
				ev.NeedsPush = false
				ev.UpdatedAt = time.Now().UTC()

				if err := st.Put(cmd.Context(), ev); err != nil {
					return err
				}
			} else if err := st.Delete(cmd.Context(), ev.ID); err != nil {
				return err
			}

			return st.Persist(cmd.Context())
		},
	}
}

// parseWhen accepts RFC3339 or a bare date. Bare dates are midnight UTC,
// which is also how all-day starts are stored.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}
