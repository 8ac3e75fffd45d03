package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/attendance"
)

func parseDay(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func (a *app) reportCmd() *cobra.Command {
	var from, to, query, out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export attendance for a date range as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			loc, err := a.cfg.Attendance.Location()
			if err != nil {
				return err
			}
			today := attendance.CalendarDate(time.Now(), loc)
			start, err := parseDay(from, today)
			if err != nil {
				return err
			}
			end, err := parseDay(to, start)
			if err != nil {
				return err
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", to, from)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListAttendance(ctx, start, end, query)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := attendance.WriteCSV(w, rows, loc); err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", len(rows), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default --from)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only identities whose name contains this text")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (a *app) incidentsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List missing check-ins and overdue check-outs for a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			loc, err := a.cfg.Attendance.Location()
			if err != nil {
				return err
			}
			now := time.Now()
			day, err := parseDay(date, attendance.CalendarDate(now, loc))
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListAttendance(ctx, day, day, "")
			if err != nil {
				return err
			}
			incidents := attendance.FindIncidents(rows, now, a.cfg.Attendance.IncidentAfter, loc)
			if len(incidents) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no incidents on %s\n", day.Format(time.DateOnly))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tTIME\tDESCRIPTION")
			for _, in := range incidents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", in.Type, in.Name, in.Time, in.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date, YYYY-MM-DD (default today)")
	return cmd
}
